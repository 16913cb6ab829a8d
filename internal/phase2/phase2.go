// Package phase2 extracts section-level records from the daily logs: it
// re-parses each log into sections, maps detected hashtags through the
// canonical map built by Phase 1, and serializes one Extraction per
// section that still carries a canonical tag after mapping.
package phase2

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/polish/internal/atomicio"
	"github.com/HendryAvila/polish/internal/mdsection"
	"github.com/HendryAvila/polish/internal/scanner"
	"github.com/HendryAvila/polish/internal/topics"
)

// Result is Phase 2's output.
type Result struct {
	Extractions []topics.Extraction
}

var datedStampRE = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// Run lists logs under memoryDir dated within [start, end] (nil,nil scans
// everything), parses sections, maps hashtags through canonicalMap, and
// writes one JSON extraction file per surviving section under
// extractionsDir.
func Run(memoryDir, extractionsDir string, start, end *time.Time, canonicalMap map[string]string, now time.Time) (*Result, error) {
	logs, err := scanner.FindDailyLogs(memoryDir, start, end)
	if err != nil {
		return nil, fmt.Errorf("phase2: scan logs: %w", err)
	}

	if err := os.MkdirAll(extractionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("phase2: ensure extractions dir: %w", err)
	}

	var result Result
	for _, rel := range logs {
		data, err := os.ReadFile(filepath.Join(memoryDir, rel))
		if err != nil {
			return nil, fmt.Errorf("phase2: read %s: %w", rel, err)
		}

		sections := mdsection.Parse(string(data), rel)
		stamp := dateStampFor(rel, now)

		for _, sec := range sections {
			if isPolishStub(sec.Content) {
				continue
			}

			canonicalTags := mapToCanonical(sec.Content, canonicalMap)
			if len(canonicalTags) == 0 {
				continue
			}

			hash := atomicio.Hash([]byte(sec.Content))
			ext := topics.Extraction{
				ID:              fmt.Sprintf("%s-%02d", stamp, sec.Index),
				SourceFile:      rel,
				SourceLineStart: sec.LineStart,
				SourceLineEnd:   sec.LineEnd,
				SectionTitle:    sec.Title,
				PrimaryTopic:    canonicalTags[0],
				SecondaryTopics: canonicalTags[1:],
				FullContent:     sec.Content,
				ContentHash:     hash,
				ExtractedAt:     now,
			}

			if err := writeExtraction(extractionsDir, ext); err != nil {
				return nil, err
			}
			result.Extractions = append(result.Extractions, ext)
		}
	}

	return &result, nil
}

// polishedMarkers are the substrings that identify a section as an
// already-applied stub from a previous run, so it is never re-extracted.
var polishedMarkers = []string{"→ **Polished to", "→ **Primary:**"}

func isPolishStub(content string) bool {
	hasMarker := false
	for _, m := range polishedMarkers {
		if strings.Contains(content, m) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}
	return strings.Contains(content, "Topics/") || strings.Contains(content, "/Topics")
}

// mapToCanonical re-runs hashtag detection over content (same regex and
// validation scanner.ExtractHashtags uses), maps each through
// canonicalMap (already-canonical tags pass through unchanged), and
// dedupes preserving first-seen textual order — the first tag in the
// section's text becomes the extraction's primary topic.
func mapToCanonical(content string, canonicalMap map[string]string) []string {
	byTag, _ := scanner.ExtractHashtags(content, "")

	type seenAt struct {
		tag  string
		line int
		col  int
	}
	order := make([]seenAt, 0, len(byTag))
	for tag, occs := range byTag {
		// occurrences are appended in scan order, so the first is the
		// earliest sighting of this tag.
		order = append(order, seenAt{tag: tag, line: occs[0].Line, col: occs[0].Column})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].line != order[j].line {
			return order[i].line < order[j].line
		}
		return order[i].col < order[j].col
	})

	seen := make(map[string]bool)
	var out []string
	for _, s := range order {
		canonical := s.tag
		if c, ok := canonicalMap[s.tag]; ok {
			canonical = c
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// dateStampFor derives the YYYYMMDD prefix for an extraction id: the
// date embedded in the log's filename if present, else now.
func dateStampFor(relPath string, now time.Time) string {
	m := datedStampRE.FindString(relPath)
	if m == "" {
		return now.UTC().Format("20060102")
	}
	t, err := time.Parse("2006-01-02", m)
	if err != nil {
		return now.UTC().Format("20060102")
	}
	return t.Format("20060102")
}

func writeExtraction(dir string, ext topics.Extraction) error {
	data, err := json.MarshalIndent(ext, "", "  ")
	if err != nil {
		return fmt.Errorf("phase2: marshal extraction %s: %w", ext.ID, err)
	}
	path := filepath.Join(dir, ext.ID+".json")
	if err := atomicio.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("phase2: write extraction %s: %w", ext.ID, err)
	}
	return nil
}
