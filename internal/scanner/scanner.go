// Package scanner walks a workspace's memory/ directory to find dated
// daily logs and extracts hashtag occurrences from their text.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var excludedDirs = map[string]bool{
	"Topics":          true,
	"topics":          true,
	"Archive":         true,
	"archive":         true,
	".polish-cache":   true,
	".polish-reports": true,
}

var datedNameRE = regexp.MustCompile(`^(?:memory-)?(\d{4})-(\d{2})-(\d{2})\.md$`)

// FindDailyLogs walks dir recursively (excluding the generated
// subdirectories and any dot-directory) and returns workspace-relative
// paths of every regular *.md file, sorted lexicographically.
//
// When both start and end are non-nil, files whose name matches the dated
// pattern are additionally required to fall within [start, end]; files
// without a parseable date in their name are always included.
func FindDailyLogs(dir string, start, end *time.Time) ([]string, error) {
	var out []string

	err := walk(dir, dir, func(relPath string, name string) error {
		if !strings.HasSuffix(name, ".md") {
			return nil
		}
		if start != nil && end != nil {
			if t, ok := parseDatedName(name); ok {
				if t.Before(*start) || t.After(*end) {
					return nil
				}
			}
		}
		out = append(out, relPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", dir, err)
	}

	sort.Strings(out)
	return out, nil
}

func walk(root, dir string, visit func(relPath, name string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		if e.IsDir() {
			if excludedDirs[name] {
				continue
			}
			if err := walk(root, full, visit); err != nil {
				return err
			}
			continue
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}
		if err := visit(rel, name); err != nil {
			return err
		}
	}
	return nil
}

func parseDatedName(name string) (time.Time, bool) {
	m := datedNameRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// hashtagRE matches #word occurrences; validation beyond the character
// class happens in isValidTag.
var hashtagRE = regexp.MustCompile(`(?i)#([A-Za-z0-9_-]+)\b`)

// Occurrence is one validated hashtag sighting in a source file.
type Occurrence struct {
	Tag     string // normalized, lowercase
	File    string
	Line    int // 1-indexed
	Column  int // 0-indexed byte offset of the '#' within the line
	Context string
}

// ExtractHashtags scans text for #tag occurrences, validates and
// normalizes each, and returns the per-tag occurrence list alongside a
// frequency map.
func ExtractHashtags(text, file string) (map[string][]Occurrence, map[string]int) {
	byTag := make(map[string][]Occurrence)
	counts := make(map[string]int)

	lines := strings.Split(text, "\n")
	for lineNo, line := range lines {
		for _, m := range hashtagRE.FindAllStringSubmatchIndex(line, -1) {
			raw := line[m[2]:m[3]]
			tag, ok := normalizeTag(raw)
			if !ok {
				continue
			}
			start := m[0] - 20
			if start < 0 {
				start = 0
			}
			end := m[1] + 20
			if end > len(line) {
				end = len(line)
			}
			occ := Occurrence{
				Tag:     tag,
				File:    file,
				Line:    lineNo + 1,
				Column:  m[0],
				Context: line[start:end],
			}
			byTag[tag] = append(byTag[tag], occ)
			counts[tag]++
		}
	}
	return byTag, counts
}

var hasLetterRE = regexp.MustCompile(`[a-z]`)
var validTagRE = regexp.MustCompile(`^[a-z0-9_-]+$`)
var allDigitsRE = regexp.MustCompile(`^[0-9]+$`)

// normalizeTag lowercases raw and validates it: must match [a-z0-9_-]+
// after lowercasing, contain at least one letter, not be purely numeric,
// and not be an all-uppercase source token of length >= 8 (treated as
// shouting rather than a tag). "TRADING" is 7 characters so it survives
// this check and normalizes to "trading".
func normalizeTag(raw string) (string, bool) {
	if allDigitsRE.MatchString(raw) {
		return "", false
	}
	if isAllUpper(raw) && len(raw) >= 8 {
		return "", false
	}
	lower := strings.ToLower(raw)
	if !validTagRE.MatchString(lower) {
		return "", false
	}
	if !hasLetterRE.MatchString(lower) {
		return "", false
	}
	return lower, true
}

// isAllUpper reports whether raw contains no lowercase letters and at
// least one uppercase letter.
func isAllUpper(raw string) bool {
	hasUpper := false
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasUpper = true
		}
	}
	return hasUpper
}
