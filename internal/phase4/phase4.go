// Package phase4 replaces extracted sections in the daily logs with stub
// pointers into Topics/, archives logs past the grace period, and heals
// known-bad legacy link patterns inside Topics/. Every daily log is backed
// up before it is overwritten; healed Topics/ files are rewritten in place
// without a backup.
package phase4

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/polish/internal/atomicio"
	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/topics"
	"github.com/HendryAvila/polish/internal/txlog"
)

// Result is Phase 4's output.
type Result struct {
	FilesUpdated   int
	FilesArchived  int
	LinksHealed    int
	LinksUnchanged bool
}

// maxShrinkRatio is the maximum fraction of a file's bytes that stub
// replacement may remove before the rebuilt content is rejected.
const maxShrinkRatio = 0.95

// Run groups extractions by source file, replaces each extracted section
// with a stub in reverse line order, archives logs past gracePeriodDays,
// and heals legacy link patterns under topicsDir.
func Run(memoryDir, topicsDir string, extractions []topics.Extraction, archiveEnabled bool, gracePeriodDays int, store *backupstore.Store, txLog *txlog.Log, now time.Time) (*Result, error) {
	byFile := make(map[string][]topics.Extraction)
	for _, e := range extractions {
		byFile[e.SourceFile] = append(byFile[e.SourceFile], e)
	}

	var result Result
	for rel, group := range byFile {
		if err := updateFile(memoryDir, rel, group, store, txLog, now); err != nil {
			return nil, err
		}
		result.FilesUpdated++
	}

	var archivedLogs map[string]string
	if archiveEnabled {
		archived, years, err := archiveOldLogs(memoryDir, gracePeriodDays, txLog, now)
		if err != nil {
			return nil, err
		}
		result.FilesArchived = archived
		archivedLogs = years
	}

	healed, err := healLinks(topicsDir, archivedLogs)
	if err != nil {
		return nil, err
	}
	result.LinksHealed = healed

	return &result, nil
}

func updateFile(memoryDir, rel string, group []topics.Extraction, store *backupstore.Store, txLog *txlog.Log, now time.Time) error {
	full := filepath.Join(memoryDir, rel)
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("phase4: read %s: %w", rel, err)
	}
	preHash := atomicio.Hash(data)

	if _, err := store.Create(data, preHash); err != nil {
		return fmt.Errorf("phase4: ensure backup for %s: %w", rel, err)
	}

	sort.Slice(group, func(i, j int) bool { return group[i].SourceLineStart > group[j].SourceLineStart })

	lines := strings.Split(string(data), "\n")
	for _, e := range group {
		if e.SourceLineStart < 1 || e.SourceLineEnd > len(lines) || e.SourceLineStart > e.SourceLineEnd {
			continue
		}
		stub := renderStub(e, now)
		replacement := strings.Split(stub, "\n")
		before := lines[:e.SourceLineStart-1]
		after := lines[e.SourceLineEnd:]
		lines = append(append(append([]string{}, before...), replacement...), after...)
	}

	rebuilt := strings.Join(lines, "\n")
	if strings.TrimSpace(rebuilt) == "" {
		return fmt.Errorf("phase4: rebuilt content for %s is empty, refusing to write", rel)
	}
	if float64(len(rebuilt)) < float64(len(data))*(1-maxShrinkRatio) {
		return fmt.Errorf("phase4: rebuilt content for %s shrank by more than %.0f%%, refusing to write", rel, maxShrinkRatio*100)
	}

	if err := atomicio.WriteAtomic(full, []byte(rebuilt)); err != nil {
		return fmt.Errorf("phase4: write %s: %w", rel, err)
	}
	if err := txLog.Append(txlog.Entry{
		Timestamp: now,
		Phase:     "phase4",
		Action:    "replace_stubs",
		Target:    full,
		Hash:      preHash,
		Status:    txlog.StatusSuccess,
	}); err != nil {
		return fmt.Errorf("phase4: log replace_stubs for %s: %w", rel, err)
	}
	return nil
}

// renderStub builds the in-place replacement text for an extracted
// section: a single-topic pointer, or a multi-topic pointer plus the
// trailing tag summary line, per the topic-file link convention.
func renderStub(e topics.Extraction, now time.Time) string {
	primaryName := topics.SanitizeTopicName(e.PrimaryTopic)
	today := now.UTC().Format("2006-01-02")
	entryDate := e.ExtractedAt.UTC().Format("2006-01-02")

	title := e.SectionTitle
	if title == "" {
		title = primaryName
	}

	if len(e.SecondaryTopics) == 0 {
		return fmt.Sprintf("## %s\n→ **Polished to [Topics/%s.md](Topics/%s.md#%s)** on %s",
			title, primaryName, primaryName, entryDate, today)
	}

	var also strings.Builder
	for i, sec := range e.SecondaryTopics {
		if i > 0 {
			also.WriteString(", ")
		}
		also.WriteString(topics.SanitizeTopicName(sec))
	}

	var tags strings.Builder
	tags.WriteString("#" + e.PrimaryTopic)
	for _, sec := range e.SecondaryTopics {
		tags.WriteString(" #" + sec)
	}

	return fmt.Sprintf(
		"## %s\n→ **Primary:** [Topics/%s.md](Topics/%s.md#%s)\n→ **Also in:** %s\n📎 Topics: %s",
		title, primaryName, primaryName, entryDate, also.String(), tags.String(),
	)
}

var datedLogRE = regexp.MustCompile(`^(?:memory-)?(\d{4})-(\d{2})-(\d{2})\.md$`)

// archiveOldLogs moves every dated log in the flat memory/ directory
// older than now-gracePeriodDays into memory/Archive/<year>/, resolving
// name conflicts with a timestamp suffix. Only files directly in memoryDir
// are considered: logs in subdirectories are neither archived nor
// reported, and no warning is emitted for them.
func archiveOldLogs(memoryDir string, gracePeriodDays int, txLog *txlog.Log, now time.Time) (int, map[string]string, error) {
	entries, err := os.ReadDir(memoryDir)
	if err != nil {
		return 0, nil, fmt.Errorf("phase4: list %s: %w", memoryDir, err)
	}

	cutoff := now.AddDate(0, 0, -gracePeriodDays)
	archived := 0
	years := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		m := datedLogRE.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		logDate, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
		if err != nil || !logDate.Before(cutoff) {
			continue
		}

		src := filepath.Join(memoryDir, name)
		destDir := filepath.Join(memoryDir, "Archive", m[1])
		dest := filepath.Join(destDir, name)

		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return archived, nil, fmt.Errorf("phase4: create archive dir %s: %w", destDir, err)
		}

		if existing, err := os.ReadFile(dest); err == nil {
			srcData, err := os.ReadFile(src)
			if err != nil {
				return archived, nil, fmt.Errorf("phase4: read %s: %w", src, err)
			}
			if atomicio.Hash(srcData) == atomicio.Hash(existing) {
				if err := os.Remove(src); err != nil {
					return archived, nil, fmt.Errorf("phase4: unlink duplicate %s: %w", src, err)
				}
			} else {
				dest = filepath.Join(destDir, strings.TrimSuffix(name, ".md")+"_conflict_"+strconv.FormatInt(now.UnixMilli(), 10)+".md")
				if err := atomicio.MoveSafe(src, dest); err != nil {
					return archived, nil, fmt.Errorf("phase4: move conflicting %s: %w", src, err)
				}
			}
		} else {
			if err := atomicio.MoveSafe(src, dest); err != nil {
				return archived, nil, fmt.Errorf("phase4: archive %s: %w", src, err)
			}
		}

		archived++
		years[name] = m[1]
		if err := txLog.Append(txlog.Entry{
			Timestamp:   now,
			Phase:       "phase4",
			Action:      "archive",
			Source:      src,
			Destination: dest,
			Status:      txlog.StatusSuccess,
		}); err != nil {
			return archived, nil, fmt.Errorf("phase4: log archive for %s: %w", name, err)
		}
	}
	return archived, years, nil
}

var (
	unknownAnchorRE  = regexp.MustCompile(`\]\(([^)]+)#unknown\)`)
	parentTopicLink  = regexp.MustCompile(`\]\(\.\./([^)#]+\.md)(#[^)]*)?\)`)
	topicsPrefixLink = regexp.MustCompile(`\]\(Topics/([^)#]+\.md)(#[^)]*)?\)`)
)

// healLinks unconditionally repairs known-bad legacy link patterns inside
// every file directly under topicsDir: strips #unknown anchors, rewrites
// ../<Name>.md and Topics/<Name>.md references (both meaningless once
// already inside Topics/) down to a bare <Name>.md, leaves ../ links to
// dated daily logs (the entries' source links) as they are, and — for every log
// archived this run — rewrites ](../<log>) to ](../Archive/<year>/<log>)
// while preserving any #anchor.
func healLinks(topicsDir string, archivedLogs map[string]string) (int, error) {
	entries, err := os.ReadDir(topicsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("phase4: list %s: %w", topicsDir, err)
	}

	healed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(topicsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return healed, fmt.Errorf("phase4: read %s: %w", path, err)
		}

		original := string(data)
		fixed := unknownAnchorRE.ReplaceAllString(original, "]($1)")
		fixed = parentTopicLink.ReplaceAllStringFunc(fixed, func(link string) string {
			m := parentTopicLink.FindStringSubmatch(link)
			if datedLogRE.MatchString(filepath.Base(m[1])) {
				return link
			}
			return "](" + m[1] + m[2] + ")"
		})
		fixed = topicsPrefixLink.ReplaceAllString(fixed, "]($1$2)")
		for log, year := range archivedLogs {
			fixed = strings.ReplaceAll(fixed, "](../"+log+")", "](../Archive/"+year+"/"+log+")")
			fixed = strings.ReplaceAll(fixed, "](../"+log+"#", "](../Archive/"+year+"/"+log+"#")
		}

		if fixed == original {
			continue
		}
		if err := atomicio.WriteAtomic(path, []byte(fixed)); err != nil {
			return healed, fmt.Errorf("phase4: write healed %s: %w", path, err)
		}
		healed++
	}
	return healed, nil
}
