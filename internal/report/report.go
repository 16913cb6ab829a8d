// Package report renders the markdown files written under
// .polish-reports/ at the end of a run: a session summary on success, a
// rollback summary on failure.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Session is rendered to .polish-reports/report-<today>.md on a clean run.
type Session struct {
	SessionID         string
	StartedAt         time.Time
	FinishedAt        time.Time
	DiscoveredTopics  int
	Extractions       int
	EntriesWritten    int
	CrossRefsCreated  int
	MergesCompleted   int
	TopicFilesCreated int
	FilesArchived     int
	BackupSize        int64
	Warnings          []string
}

// Render builds the session report's markdown body.
func (s Session) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory Polish Report\n\n")
	fmt.Fprintf(&b, "**Session:** %s\n**Started:** %s\n**Finished:** %s\n**Duration:** %s\n\n",
		s.SessionID, s.StartedAt.Format(time.RFC3339), s.FinishedAt.Format(time.RFC3339), s.FinishedAt.Sub(s.StartedAt))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Discovered topics: %d\n", s.DiscoveredTopics)
	fmt.Fprintf(&b, "- Extractions: %d\n", s.Extractions)
	fmt.Fprintf(&b, "- Entries written: %d\n", s.EntriesWritten)
	fmt.Fprintf(&b, "- Cross-references created: %d\n", s.CrossRefsCreated)
	fmt.Fprintf(&b, "- Merges completed: %d\n", s.MergesCompleted)
	fmt.Fprintf(&b, "- Topic files created: %d\n", s.TopicFilesCreated)
	fmt.Fprintf(&b, "- Logs archived: %d\n", s.FilesArchived)
	fmt.Fprintf(&b, "- Backup size: %s\n\n", humanize.Bytes(uint64(s.BackupSize)))

	if len(s.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RestoreOutcome is one transaction-log entry's rollback result.
type RestoreOutcome struct {
	Target string
	Status string // "restored", "skipped-missing-hash", or "failed"
	Detail string
}

// Rollback is rendered to .polish-reports/rollback-<today>.md when
// validation fails and the run restores from backup.
type Rollback struct {
	SessionID        string
	OccurredAt       time.Time
	ValidationErrors []string
	RestoreOutcomes  []RestoreOutcome
}

// Render builds the rollback report's markdown body.
func (r Rollback) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory Polish Rollback Report\n\n")
	fmt.Fprintf(&b, "**Session:** %s\n**Occurred:** %s\n\n", r.SessionID, r.OccurredAt.Format(time.RFC3339))

	b.WriteString("## Validation Errors\n\n")
	for _, e := range r.ValidationErrors {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\n## Restore Outcomes\n\n")
	for _, o := range r.RestoreOutcomes {
		fmt.Fprintf(&b, "- `%s`: %s", o.Target, o.Status)
		if o.Detail != "" {
			fmt.Fprintf(&b, " (%s)", o.Detail)
		}
		b.WriteString("\n")
	}

	return b.String()
}
