// Package phase5 runs the pipeline's four integrity checks and, on a
// clean run, finalizes it (report, completed checkpoint, archive); on any
// check failure it drives rollback by replaying the transaction log in
// reverse.
package phase5

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/report"
	"github.com/HendryAvila/polish/internal/similarity"
	"github.com/HendryAvila/polish/internal/topics"
	"github.com/HendryAvila/polish/internal/txlog"
)

// Result is Phase 5's output.
type Result struct {
	Errors     []string
	Warnings   []string
	RolledBack bool
	ReportPath string
}

var linkRE = regexp.MustCompile(`\]\(([^)#]+)(#[^)]*)?\)`)

// Run executes the four integrity checks against topicsDir. If no errors
// are found, it writes the session report, saves and archives a completed
// checkpoint, and optionally cleans old backups. Otherwise it rolls back
// via txLog's reverse history and writes a rollback report.
func Run(topicsDir, reportsDir string, extractions []topics.Extraction, proposals []similarity.Proposal, store *backupstore.Store, txLog *txlog.Log, ckptStore *checkpoint.Store, state *checkpoint.State, session report.Session, backupCleanupAge time.Duration, now time.Time) (*Result, error) {
	result := &Result{}

	checkContentIntegrity(topicsDir, extractions, result)
	checkLinkIntegrity(topicsDir, result)
	checkMergeIntegrity(topicsDir, proposals, result)
	if err := checkFilesystemHealth(topicsDir, result); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("phase5: ensure reports dir: %w", err)
	}

	if len(result.Errors) == 0 {
		session.Warnings = result.Warnings
		reportPath := filepath.Join(reportsDir, "report-"+now.UTC().Format("2006-01-02")+".md")
		if err := os.WriteFile(reportPath, []byte(session.Render()), 0o644); err != nil {
			return nil, fmt.Errorf("phase5: write session report: %w", err)
		}
		result.ReportPath = reportPath

		state.Status = checkpoint.StatusCompleted
		if err := ckptStore.Save(state); err != nil {
			return nil, fmt.Errorf("phase5: save final checkpoint: %w", err)
		}
		if _, err := ckptStore.Archive(state); err != nil {
			return nil, fmt.Errorf("phase5: archive checkpoint: %w", err)
		}
		if _, err := txLog.Archive(now); err != nil {
			return nil, fmt.Errorf("phase5: archive transaction log: %w", err)
		}

		if backupCleanupAge > 0 {
			if _, err := store.CleanOld(backupCleanupAge); err != nil {
				return nil, fmt.Errorf("phase5: clean old backups: %w", err)
			}
		}
		return result, nil
	}

	outcomes, err := Rollback(store, txLog)
	if err != nil {
		return nil, fmt.Errorf("phase5: rollback: %w", err)
	}
	result.RolledBack = true

	rb := report.Rollback{
		SessionID:        session.SessionID,
		OccurredAt:       now,
		ValidationErrors: result.Errors,
		RestoreOutcomes:  outcomes,
	}
	reportPath := filepath.Join(reportsDir, "rollback-"+now.UTC().Format("2006-01-02")+".md")
	if err := os.WriteFile(reportPath, []byte(rb.Render()), 0o644); err != nil {
		return nil, fmt.Errorf("phase5: write rollback report: %w", err)
	}
	result.ReportPath = reportPath

	return result, nil
}

// checkContentIntegrity verifies every extraction's primary topic file
// exists and contains its content hash as a substring.
func checkContentIntegrity(topicsDir string, extractions []topics.Extraction, result *Result) {
	for _, e := range extractions {
		path, err := topics.ResolveTopicPath(topicsDir, e.PrimaryTopic)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("content integrity: resolve %s: %v", e.PrimaryTopic, err))
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("content integrity: %s: topic file missing for extraction %s", path, e.ID))
			continue
		}
		if !strings.Contains(string(data), e.ContentHash) {
			result.Errors = append(result.Errors, fmt.Sprintf("content integrity: %s: missing hash %s for extraction %s", path, e.ContentHash, e.ID))
		}
	}
}

// checkLinkIntegrity verifies every intra-workspace link in every Topics
// file resolves to an existing file, relative to topicsDir.
func checkLinkIntegrity(topicsDir string, result *Result) {
	entries, err := os.ReadDir(topicsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(topicsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, m := range linkRE.FindAllStringSubmatch(string(data), -1) {
			target := m[1]
			if strings.Contains(target, "://") {
				continue
			}
			resolved := filepath.Join(topicsDir, target)
			if _, err := os.Stat(resolved); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("link integrity: %s: broken link %q", path, target))
			}
		}
	}
}

// checkMergeIntegrity warns on missing alias-merge archives and errors on
// duplicate hashes within a canonical topic file.
func checkMergeIntegrity(topicsDir string, proposals []similarity.Proposal, result *Result) {
	for _, p := range proposals {
		aliasName := topics.SanitizeTopicName(p.Alias)
		archived := filepath.Join(topicsDir, ".archive", fmt.Sprintf("%s_merged_*.md", aliasName))
		matches, _ := filepath.Glob(archived)
		if len(matches) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("merge integrity: no archived alias file found for %s -> %s", p.Alias, p.Canonical))
		}

		canonicalPath, err := topics.ResolveTopicPath(topicsDir, p.Canonical)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(canonicalPath)
		if err != nil {
			continue
		}
		if dup := duplicateHash(string(data)); dup != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("merge integrity: %s: duplicate hash %s", canonicalPath, dup))
		}
	}
}

var hashLineRE = regexp.MustCompile(`\*\*Hash:\*\* (\S+)`)

func duplicateHash(content string) string {
	seen := make(map[string]bool)
	for _, m := range hashLineRE.FindAllStringSubmatch(content, -1) {
		if seen[m[1]] {
			return m[1]
		}
		seen[m[1]] = true
	}
	return ""
}

// checkFilesystemHealth verifies every Topics file is non-empty, readable,
// and free of pipeline-originated "undefined"/"[object Object]" markers.
func checkFilesystemHealth(topicsDir string, result *Result) error {
	entries, err := os.ReadDir(topicsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("phase5: list %s: %w", topicsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(topicsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("filesystem health: %s: unreadable: %v", path, err))
			continue
		}
		switch {
		case len(data) == 0:
			result.Errors = append(result.Errors, fmt.Sprintf("filesystem health: %s: empty file", path))
		case len(data) < 100:
			result.Warnings = append(result.Warnings, fmt.Sprintf("filesystem health: %s: suspiciously small (%d bytes)", path, len(data)))
		}
		if strings.Contains(string(data), "undefined") || strings.Contains(string(data), "[object Object]") {
			result.Errors = append(result.Errors, fmt.Sprintf("filesystem health: %s: contains an undefined/[object Object] marker", path))
		}
	}
	return nil
}

// Rollback replays txLog's entries in reverse, restoring replace_stubs
// targets from backup. Entries missing either hash or target are skipped
// with a logged outcome rather than aborting. Exported so the
// Orchestrator can invoke the same restore path on an uncaught error from
// any earlier phase, not just a Phase 5 validation failure.
func Rollback(store *backupstore.Store, txLog *txlog.Log) ([]report.RestoreOutcome, error) {
	entries, err := txLog.GetReverse()
	if err != nil {
		return nil, fmt.Errorf("phase5: read transaction log: %w", err)
	}

	var outcomes []report.RestoreOutcome
	for _, e := range entries {
		if e.Action != "replace_stubs" {
			continue
		}
		if e.Hash == "" || e.Target == "" {
			outcomes = append(outcomes, report.RestoreOutcome{Target: e.Target, Status: "skipped-missing-hash"})
			continue
		}
		if err := store.Restore(e.Hash, e.Target); err != nil {
			outcomes = append(outcomes, report.RestoreOutcome{Target: e.Target, Status: "failed", Detail: err.Error()})
			continue
		}
		outcomes = append(outcomes, report.RestoreOutcome{Target: e.Target, Status: "restored"})
	}
	return outcomes, nil
}
