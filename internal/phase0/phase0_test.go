package phase0

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/txlog"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	memDir := filepath.Join(base, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		t.Fatal(err)
	}
	today := time.Now().UTC()
	recent := today.Format("2006-01-02")
	if err := os.WriteFile(filepath.Join(memDir, "memory-"+recent+".md"), []byte("## Notes\n\nhello #trading"), 0o644); err != nil {
		t.Fatal(err)
	}
	return base
}

func TestRun_CreatesLayoutAndBacksUpLogs(t *testing.T) {
	base := setupWorkspace(t)
	memDir := filepath.Join(base, "memory")
	cacheDir := filepath.Join(memDir, ".polish-cache")

	store, err := backupstore.New(filepath.Join(cacheDir, "backups"))
	if err != nil {
		t.Fatal(err)
	}
	txLog, err := txlog.Open(filepath.Join(cacheDir, "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}

	result, err := Run(base, 7, store, txLog, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.BackupsCreated != 1 {
		t.Errorf("BackupsCreated = %d, want 1", result.BackupsCreated)
	}
	if result.SessionID == "" {
		t.Error("expected non-empty session id")
	}

	for _, dir := range []string{"backups", "extractions", "embeddings"} {
		if _, err := os.Stat(filepath.Join(cacheDir, dir)); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
	if _, err := os.Stat(filepath.Join(memDir, ".polish-reports")); err != nil {
		t.Errorf("expected reports dir to exist: %v", err)
	}

	entries, err := txLog.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "backup" || entries[0].Status != txlog.StatusSuccess {
		t.Errorf("got %+v", entries)
	}
}

func TestRun_FailsWithoutMemoryDir(t *testing.T) {
	base := t.TempDir()
	store, err := backupstore.New(filepath.Join(base, "backups"))
	if err != nil {
		t.Fatal(err)
	}
	txLog, err := txlog.Open(filepath.Join(base, "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(base, 7, store, txLog, nil); err == nil {
		t.Fatal("expected error when memory/ is missing")
	}
}
