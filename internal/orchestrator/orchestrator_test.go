package orchestrator

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/config"
	"github.com/HendryAvila/polish/internal/phase1"
	"github.com/HendryAvila/polish/internal/phase2"
	"github.com/HendryAvila/polish/internal/similarity"
	"github.com/HendryAvila/polish/internal/topics"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRun_EndToEndCleanPipeline(t *testing.T) {
	base := t.TempDir()
	memDir := filepath.Join(base, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Dated yesterday so the log always falls inside the lookback window.
	logName := "memory-" + time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02") + ".md"
	content := "## Morning Trade\n\nBought calls #trading #trading\n\n## Evening Trade\n\nSold puts #trading\n"
	if err := os.WriteFile(filepath.Join(memDir, logName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Advanced.MinTagFrequency = 1
	cfg.Archive.Enabled = false

	result, err := Run(context.Background(), base, cfg, Options{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected validation errors: %v", result.Errors)
	}

	tradingFile := filepath.Join(memDir, "Topics", "Trading.md")
	data, err := os.ReadFile(tradingFile)
	if err != nil {
		t.Fatalf("expected Trading.md: %v", err)
	}
	if !strings.Contains(string(data), "**Hash:**") {
		t.Errorf("expected entry with hash in Trading.md: %s", data)
	}

	rebuilt, err := os.ReadFile(filepath.Join(memDir, logName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(rebuilt), "Polished to [Topics/Trading.md]") {
		t.Errorf("expected daily log replaced with stub: %s", rebuilt)
	}

	if _, err := os.Stat(filepath.Join(memDir, ".polish-cache", "checkpoint.json")); !os.IsNotExist(err) {
		t.Errorf("expected the live checkpoint to be archived away, stat err = %v", err)
	}
	archived, _ := filepath.Glob(filepath.Join(memDir, ".polish-cache", "checkpoint_*.json"))
	if len(archived) != 1 {
		t.Errorf("expected exactly one archived checkpoint, got %v", archived)
	}
}

func TestRun_PhaseFailureWritesRollbackReport(t *testing.T) {
	base := t.TempDir()
	memDir := filepath.Join(base, "memory")
	cacheDir := filepath.Join(memDir, ".polish-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// A regular file where phase 0 needs a directory makes it fail after
	// the transaction log is already open, exercising the generic
	// rollback-and-report path rather than phase 5's own.
	if err := os.WriteFile(filepath.Join(cacheDir, "extractions"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	if _, err := Run(context.Background(), base, cfg, Options{}, discardLogger()); err == nil {
		t.Fatal("expected phase 0 failure")
	}

	reportPath := filepath.Join(memDir, ".polish-reports", "rollback-"+time.Now().UTC().Format("2006-01-02")+".md")
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected rollback report at %s: %v", reportPath, err)
	}
	if !strings.Contains(string(data), "Rollback Report") {
		t.Errorf("unexpected report body:\n%s", data)
	}
}

func TestHydrate_RoundTripsPhaseResultsThroughCheckpoint(t *testing.T) {
	base := t.TempDir()

	proposals := []similarity.Proposal{
		{Canonical: "trading", Alias: "trade", Confidence: 1.0, Method: similarity.MethodSynonymRule},
	}
	counts := map[string]int{"trading": 3, "trade": 1}
	p1 := &phase1.Result{
		DiscoveredTopics: counts,
		MergeProposals:   proposals,
		CanonicalMap:     topics.BuildCanonicalMap([]string{"trade", "trading"}, counts, proposals),
		SimilarityMethod: similarity.MethodLevenshtein,
	}
	p2 := &phase2.Result{Extractions: []topics.Extraction{
		{ID: "20260801-00", SourceFile: "memory-2026-08-01.md", SourceLineStart: 1, SourceLineEnd: 3,
			PrimaryTopic: "trading", FullContent: "bought calls #trading", ContentHash: "abc123",
			ExtractedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
	}}

	state := &checkpoint.State{Version: 1, SessionID: "sess1", CurrentPhase: 2, Stats: map[string]any{}}
	state.Stats["backups_created"] = 1
	state.Stats["backup_size"] = int64(512)
	state.SimilarityMethod = p1.SimilarityMethod
	if err := persistDiscovery(state, p1); err != nil {
		t.Fatal(err)
	}
	if err := persistExtractions(state, p2); err != nil {
		t.Fatal(err)
	}

	ckptStore := checkpoint.New(filepath.Join(base, "checkpoint.json"), base)
	if err := ckptStore.Save(state); err != nil {
		t.Fatal(err)
	}
	loaded, err := ckptStore.Load()
	if err != nil {
		t.Fatal(err)
	}

	p0h, p1h, p2h, _, err := hydrate(loaded)
	if err != nil {
		t.Fatal(err)
	}

	if p0h.BackupsCreated != 1 || p0h.BackupSize != 512 {
		t.Errorf("phase0 stats = %d/%d, want 1/512", p0h.BackupsCreated, p0h.BackupSize)
	}
	if got := p1h.CanonicalMap.AliasMap["trade"]; got != "trading" {
		t.Errorf("aliasMap[trade] = %q, want trading", got)
	}
	entry, ok := p1h.CanonicalMap.Canonical.Get("trading")
	if !ok || entry.Count != 4 {
		t.Errorf("canonical trading entry = %+v, ok %v, want count 4", entry, ok)
	}
	if len(p1h.MergeProposals) != 1 || p1h.MergeProposals[0].Alias != "trade" {
		t.Errorf("merge proposals = %+v", p1h.MergeProposals)
	}
	if len(p2h.Extractions) != 1 || p2h.Extractions[0].ContentHash != "abc123" {
		t.Errorf("extractions = %+v", p2h.Extractions)
	}
	if loaded.FilesProcessed[0] != "memory-2026-08-01.md" {
		t.Errorf("files processed = %v", loaded.FilesProcessed)
	}
}

func TestResolveWorkspace_PrefersMemoryDirEnv(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "memory"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEMORY_DIR", base)

	resolved, err := ResolveWorkspace()
	if err != nil {
		t.Fatal(err)
	}
	if resolved != base {
		t.Errorf("resolved = %q, want %q", resolved, base)
	}
}
