// Package topics owns the per-topic markdown files under Topics/: path
// sanitization, the canonical/alias map built during discovery, entry and
// cross-reference rendering, and merge application.
//
// CanonicalMap keys are held in an ordered map so iteration over
// canonical tags follows discovery order and stays deterministic across
// runs. The similarity tie-break does not read this map; it sorts tags
// itself.
package topics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/HendryAvila/polish/internal/atomicio"
	"github.com/HendryAvila/polish/internal/similarity"
)

// ErrSecurityViolation is returned when a sanitized topic name still
// resolves outside the topics directory.
var ErrSecurityViolation = errors.New("topics: security violation: resolved path escapes topics directory")

const maxTopicNameLen = 100

// invalidFilenameChars matches path separators and characters that are
// unsafe in filenames across common filesystems.
var invalidFilenameChars = map[rune]bool{
	'/': true, '\\': true, ':': true, '*': true, '?': true,
	'"': true, '<': true, '>': true, '|': true,
}

// SanitizeTopicName strips ".." sequences, path separators and
// filename-invalid characters from primary, truncates to 100 characters,
// defaults to "unnamed" if the result is empty, and capitalizes the
// first letter.
func SanitizeTopicName(primary string) string {
	s := strings.ReplaceAll(primary, "..", "")

	var b strings.Builder
	for _, r := range s {
		if invalidFilenameChars[r] {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())

	if len(clean) > maxTopicNameLen {
		clean = clean[:maxTopicNameLen]
	}
	if clean == "" {
		clean = "unnamed"
	}

	return capitalizeFirst(clean)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ResolveTopicPath sanitizes primary, builds <Name>.md under topicsDir,
// and verifies the resolved absolute path stays inside topicsDir.
func ResolveTopicPath(topicsDir, primary string) (string, error) {
	name := SanitizeTopicName(primary)
	candidate := filepath.Join(topicsDir, name+".md")

	absTopics, err := filepath.Abs(topicsDir)
	if err != nil {
		return "", fmt.Errorf("topics: resolve topics dir: %w", err)
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("topics: resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(absTopics, absCandidate)
	if err != nil || strings.HasPrefix(rel, "..") || rel == ".." {
		return "", ErrSecurityViolation
	}
	return absCandidate, nil
}

// CanonicalEntry is one canonical tag's merge group.
type CanonicalEntry struct {
	Canonical string   `json:"canonical"`
	Aliases   []string `json:"aliases,omitempty"`
	Count     int      `json:"count"`
}

// CanonicalMap is the discover-phase output: canonicalMap (ordered,
// deterministic iteration) plus aliasMap. Every discovered tag appears
// either as a canonical key or in AliasMap, never both. The JSON shape is
// what the checkpoint persists between phases, so a resumed run rebuilds
// the exact same map.
type CanonicalMap struct {
	Canonical *orderedmap.OrderedMap[string, *CanonicalEntry] `json:"canonicalMap"`
	AliasMap  map[string]string                               `json:"aliasMap"`
}

// NewCanonicalMap returns an empty map ready for population or decoding.
func NewCanonicalMap() *CanonicalMap {
	return &CanonicalMap{
		Canonical: orderedmap.New[string, *CanonicalEntry](),
		AliasMap:  make(map[string]string),
	}
}

// BuildCanonicalMap seeds every discovered tag as its own canonical, then
// applies proposals in order: for each, if the canonical entry still
// exists, folds the alias's count in, deletes the alias entry, and
// records aliasMap[alias] = canonical.
func BuildCanonicalMap(tags []string, counts map[string]int, proposals []similarity.Proposal) *CanonicalMap {
	cm := NewCanonicalMap()

	for _, tag := range tags {
		cm.Canonical.Set(tag, &CanonicalEntry{Canonical: tag, Count: counts[tag]})
	}

	for _, p := range proposals {
		entry, exists := cm.Canonical.Get(p.Canonical)
		if !exists {
			continue
		}
		aliasEntry, aliasExists := cm.Canonical.Get(p.Alias)
		if aliasExists {
			entry.Count += aliasEntry.Count
			cm.Canonical.Delete(p.Alias)
		}
		entry.Aliases = append(entry.Aliases, p.Alias)
		cm.AliasMap[p.Alias] = p.Canonical
	}

	return cm
}

// Extraction is the section-level record Phase 2 produces and Phase 3
// consumes to populate topic files.
type Extraction struct {
	ID              string    `json:"id"`
	SourceFile      string    `json:"source_file"`
	SourceLineStart int       `json:"source_line_start"`
	SourceLineEnd   int       `json:"source_line_end"`
	SectionTitle    string    `json:"section_title"`
	PrimaryTopic    string    `json:"primary_topic"`
	SecondaryTopics []string  `json:"secondary_topics"`
	FullContent     string    `json:"full_content"`
	ContentHash     string    `json:"content_hash"`
	ExtractedAt     time.Time `json:"extracted_at"`
}

func dateStamp(t time.Time) string { return t.Format("2006-01-02") }

// RenderHeader is the canonical header written to a brand-new topic file.
func RenderHeader(title, tag string, polishedAt time.Time) string {
	return fmt.Sprintf(
		"# %s\n\n> Curated automatically from daily logs. New entries are appended below.\n\n**Topic:** #%s\n**Polished:** %s\n\n---\n\n",
		title, tag, dateStamp(polishedAt),
	)
}

// RenderEntry builds a topic file's full-entry block for e.
func RenderEntry(e Extraction) string {
	var tags strings.Builder
	tags.WriteString("#" + e.PrimaryTopic)
	for _, s := range e.SecondaryTopics {
		tags.WriteString(" #" + s)
	}

	return fmt.Sprintf(
		"### %s — [%s](../%s#L%d)\n\n%s\n\n**Topics:** %s\n**Source:** %s (lines %d-%d)\n**Hash:** %s\n\n---\n\n",
		dateStamp(e.ExtractedAt), e.SourceFile, e.SourceFile, e.SourceLineStart,
		e.FullContent,
		tags.String(),
		e.SourceFile, e.SourceLineStart, e.SourceLineEnd,
		e.ContentHash,
	)
}

// RenderCrossReference builds the stub entry appended to a secondary
// topic's file, pointing back at the primary topic's full entry.
func RenderCrossReference(e Extraction, primaryName string) string {
	preview := collapseNewlines(e.FullContent)
	if len(preview) > 100 {
		preview = preview[:100]
	}

	var tags strings.Builder
	tags.WriteString("#" + e.PrimaryTopic)
	for _, s := range e.SecondaryTopics {
		tags.WriteString(" #" + s)
	}

	return fmt.Sprintf(
		"### %s — Cross-Reference\n\n📌 **Full entry:** [Topics/%s.md](../%s.md#%s)\n\n**Preview:** %s...\n\n**Tags:** %s\n**Related File:** %s\n\n---\n\n",
		dateStamp(e.ExtractedAt), primaryName, primaryName, dateStamp(e.ExtractedAt),
		preview,
		tags.String(),
		e.SourceFile,
	)
}

func collapseNewlines(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AppendEntry writes entryText to path, creating the file with header if
// it doesn't exist yet, otherwise appending.
func AppendEntry(path, title, tag string, now time.Time, entryText string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("topics: read %s: %w", path, err)
		}
		content := RenderHeader(title, tag, now) + entryText
		return atomicio.WriteAtomic(path, []byte(content))
	}
	content := string(existing) + entryText
	return atomicio.WriteAtomic(path, []byte(content))
}

// mergeBanner is prepended to an archived alias file.
func mergeBanner(alias, canonical string, confidence float64, now time.Time) string {
	return fmt.Sprintf(
		"> **Merged into %s** on %s (confidence %.2f, reason: tag similarity)\n\n---\n\n",
		canonical, dateStamp(now), confidence,
	)
}

// ApplyMerge reads the alias file's entries, keeps only those whose
// **Hash:** isn't already present in the canonical file, rewrites
// #alias occurrences to #canonical, appends the survivors to the
// canonical file, and archives the (now-banner-prefixed) alias file to
// archivePath. Returns false, nil if the alias file doesn't exist (a
// no-op).
func ApplyMerge(canonicalPath, aliasPath, archivePath string, proposal similarity.Proposal, now time.Time) (bool, error) {
	aliasData, err := os.ReadFile(aliasPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("topics: read alias %s: %w", aliasPath, err)
	}

	canonicalData, err := os.ReadFile(canonicalPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("topics: read canonical %s: %w", canonicalPath, err)
	}

	existingHashes := collectHashes(string(canonicalData))
	aliasEntries := splitEntries(string(aliasData))

	var survivors []string
	for _, entry := range aliasEntries {
		hash := extractHash(entry)
		if hash != "" && existingHashes[hash] {
			continue
		}
		aliasTagRE := regexp.MustCompile(`#` + regexp.QuoteMeta(proposal.Alias) + `([^A-Za-z0-9_-]|$)`)
		rewritten := aliasTagRE.ReplaceAllString(entry, "#"+proposal.Canonical+"$1")
		survivors = append(survivors, rewritten)
	}

	if len(survivors) > 0 {
		appended := strings.Join(survivors, "\n---\n")
		newContent := string(canonicalData) + appended + "\n"
		if err := atomicio.WriteAtomic(canonicalPath, []byte(newContent)); err != nil {
			return false, fmt.Errorf("topics: append merged entries: %w", err)
		}
	}

	banner := mergeBanner(proposal.Alias, proposal.Canonical, proposal.Confidence, now)
	if err := atomicio.WriteAtomic(archivePath, []byte(banner+string(aliasData))); err != nil {
		return false, fmt.Errorf("topics: archive alias %s: %w", aliasPath, err)
	}
	if err := os.Remove(aliasPath); err != nil {
		return false, fmt.Errorf("topics: remove merged alias %s: %w", aliasPath, err)
	}

	return true, nil
}

// ArchivedAliasPath builds the Topics/.archive/<aliasBase>_merged_<date>.md
// path for a merged-away alias file.
func ArchivedAliasPath(topicsDir, aliasBase string, now time.Time) string {
	return filepath.Join(topicsDir, ".archive", fmt.Sprintf("%s_merged_%s.md", aliasBase, dateStamp(now)))
}

var hashLinePrefix = "**Hash:** "

func extractHash(entry string) string {
	idx := strings.Index(entry, hashLinePrefix)
	if idx < 0 {
		return ""
	}
	rest := entry[idx+len(hashLinePrefix):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

func collectHashes(content string) map[string]bool {
	hashes := make(map[string]bool)
	for _, entry := range splitEntries(content) {
		if h := extractHash(entry); h != "" {
			hashes[h] = true
		}
	}
	return hashes
}

// splitEntries splits topic file content on the "\n---\n" entry
// separator and filters out the leading header/quote block (any segment
// containing no **Hash:** line, since every real entry has one).
func splitEntries(content string) []string {
	parts := strings.Split(content, "\n---\n")
	var entries []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, hashLinePrefix) {
			continue
		}
		entries = append(entries, trimmed)
	}
	return entries
}
