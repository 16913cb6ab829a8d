package phase5

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/polish/internal/atomicio"
	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/report"
	"github.com/HendryAvila/polish/internal/topics"
	"github.com/HendryAvila/polish/internal/txlog"
)

func setup(t *testing.T) (base string, store *backupstore.Store, txLog *txlog.Log) {
	t.Helper()
	base = t.TempDir()
	var err error
	store, err = backupstore.New(filepath.Join(base, "backups"))
	if err != nil {
		t.Fatal(err)
	}
	txLog, err = txlog.Open(filepath.Join(base, "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	return base, store, txLog
}

func TestRun_CleanPassFinalizesCheckpointAndReport(t *testing.T) {
	base, store, txLog := setup(t)
	topicsDir := filepath.Join(base, "Topics")
	reportsDir := filepath.Join(base, ".polish-reports")
	if err := os.MkdirAll(topicsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	entry := topics.Extraction{
		ID: "1", SourceFile: "memory-2026-08-01.md", SourceLineStart: 1, SourceLineEnd: 3,
		PrimaryTopic: "trading", FullContent: "bought calls", ContentHash: "abc123", ExtractedAt: time.Now(),
	}
	if err := os.WriteFile(filepath.Join(topicsDir, "Trading.md"), []byte(topics.RenderHeader("Trading", "trading", time.Now())+topics.RenderEntry(entry)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "memory-2026-08-01.md"), []byte("## Trading\n\nbought calls\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ckptStore := checkpoint.New(filepath.Join(base, "checkpoint.json"), base)
	state := &checkpoint.State{Version: 1, SessionID: "sess1", StartedAt: time.Now(), CurrentPhase: 5}

	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	result, err := Run(topicsDir, reportsDir, []topics.Extraction{entry}, nil, store, txLog, ckptStore, state, report.Session{SessionID: "sess1"}, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.RolledBack {
		t.Error("should not roll back on a clean pass")
	}
	if _, err := os.Stat(result.ReportPath); err != nil {
		t.Errorf("expected report file: %v", err)
	}

	archived, err := filepath.Glob(filepath.Join(base, "checkpoint_*.json"))
	if err != nil || len(archived) != 1 {
		t.Errorf("expected exactly one archived checkpoint, got %v, err %v", archived, err)
	}

	archivedLogs, err := filepath.Glob(filepath.Join(base, "transaction_*.log"))
	if err != nil || len(archivedLogs) != 1 {
		t.Errorf("expected exactly one archived transaction log, got %v, err %v", archivedLogs, err)
	}
	if info, err := os.Stat(filepath.Join(base, "transaction.log")); err != nil || info.Size() != 0 {
		t.Errorf("expected a fresh empty transaction log, info %v, err %v", info, err)
	}
}

func TestRun_MissingHashTriggersRollback(t *testing.T) {
	base, store, txLog := setup(t)
	topicsDir := filepath.Join(base, "Topics")
	reportsDir := filepath.Join(base, ".polish-reports")
	if err := os.MkdirAll(topicsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(base, "memory-2026-08-01.md")
	original := []byte("## First\n\noriginal content\n")
	if err := os.WriteFile(logPath, original, 0o644); err != nil {
		t.Fatal(err)
	}
	preHash := atomicio.Hash(original)
	if _, err := store.Create(original, preHash); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(logPath, []byte("## First\n→ **Polished to [Topics/Trading.md]**"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := txLog.Append(txlog.Entry{Timestamp: time.Now(), Phase: "phase4", Action: "replace_stubs", Target: logPath, Hash: preHash, Status: txlog.StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	entry := topics.Extraction{ID: "1", PrimaryTopic: "trading", ContentHash: "doesnotexist"}

	ckptStore := checkpoint.New(filepath.Join(base, "checkpoint.json"), base)
	state := &checkpoint.State{Version: 1, SessionID: "sess1", StartedAt: time.Now(), CurrentPhase: 5}

	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	result, err := Run(topicsDir, reportsDir, []topics.Extraction{entry}, nil, store, txLog, ckptStore, state, report.Session{SessionID: "sess1"}, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected content integrity error")
	}
	if !result.RolledBack {
		t.Fatal("expected rollback to have run")
	}

	restored, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(original) {
		t.Errorf("expected log restored to original, got %q", restored)
	}
	if _, err := os.Stat(result.ReportPath); err != nil {
		t.Errorf("expected rollback report: %v", err)
	}
}
