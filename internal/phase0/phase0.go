// Package phase0 runs the pipeline's initialization: it lays out the
// cache/report directories, verifies the workspace, and backs up every
// daily log in the lookback window before anything else touches them.
package phase0

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/scanner"
	"github.com/HendryAvila/polish/internal/txlog"
)

// Result is Phase 0's output, folded into the running checkpoint state.
type Result struct {
	CacheDir       string
	BackupsCreated int
	BackupSize     int64
	SessionID      string
	StartedAt      time.Time
}

// lowSpaceThreshold is the minimum ratio of free disk space to total
// memory directory size below which Phase 0 emits a warning rather than
// failing — backups themselves are the thing that could run out of room.
const lowSpaceThreshold = 2.0

// Run executes Phase 0 against a workspace rooted at base (the directory
// containing memory/). The backup store and transaction log are owned by
// the Orchestrator and shared across all phases.
func Run(base string, lookbackDays int, store *backupstore.Store, txLog *txlog.Log, logger *log.Logger) (*Result, error) {
	memoryDir := filepath.Join(base, "memory")
	if info, err := os.Stat(memoryDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("phase0: %s does not exist or is not a directory — is this workspace correct?", memoryDir)
	}

	cacheDir := filepath.Join(memoryDir, ".polish-cache")
	for _, sub := range []string{"backups", "extractions", "embeddings"} {
		if err := os.MkdirAll(filepath.Join(cacheDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("phase0: create %s: %w", sub, err)
		}
	}
	reportsDir := filepath.Join(memoryDir, ".polish-reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("phase0: create reports dir: %w", err)
	}

	totalSize, err := dirSize(memoryDir)
	if err != nil {
		return nil, fmt.Errorf("phase0: measure %s: %w", memoryDir, err)
	}
	warnIfLowSpace(memoryDir, totalSize, logger)

	now := time.Now().UTC()
	sessionID, err := checkpoint.GenerateSessionID(now)
	if err != nil {
		return nil, fmt.Errorf("phase0: %w", err)
	}

	start := now.AddDate(0, 0, -lookbackDays)
	logs, err := scanner.FindDailyLogs(memoryDir, &start, &now)
	if err != nil {
		return nil, fmt.Errorf("phase0: scan logs: %w", err)
	}

	var backupsCreated int
	var backupSize int64
	for _, rel := range logs {
		full := filepath.Join(memoryDir, rel)
		data, err := os.ReadFile(full)
		if err != nil {
			_ = txLog.Append(txlog.Entry{Timestamp: time.Now().UTC(), Phase: "phase0", Action: "backup", Target: rel, Status: txlog.StatusFailed, Detail: err.Error()})
			continue
		}

		if _, err := store.Create(data, ""); err != nil {
			_ = txLog.Append(txlog.Entry{Timestamp: time.Now().UTC(), Phase: "phase0", Action: "backup", Target: rel, Status: txlog.StatusFailed, Detail: err.Error()})
			continue
		}

		backupsCreated++
		backupSize += int64(len(data))
		if err := txLog.Append(txlog.Entry{Timestamp: time.Now().UTC(), Phase: "phase0", Action: "backup", Target: rel, Status: txlog.StatusSuccess}); err != nil {
			return nil, fmt.Errorf("phase0: append transaction: %w", err)
		}
	}

	return &Result{
		CacheDir:       cacheDir,
		BackupsCreated: backupsCreated,
		BackupSize:     backupSize,
		SessionID:      sessionID,
		StartedAt:      now,
	}, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// warnIfLowSpace logs a non-fatal warning when free space on the
// memory directory's filesystem looks too small relative to what
// backing it up will consume. Best-effort: a failed statfs is ignored.
func warnIfLowSpace(dir string, totalSize int64, logger *log.Logger) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if totalSize > 0 && float64(free) < lowSpaceThreshold*float64(totalSize) && logger != nil {
		logger.Printf("phase0: warning: only %s free, memory/ is %s — backups may exhaust disk space", humanize.Bytes(uint64(free)), humanize.Bytes(uint64(totalSize)))
	}
}
