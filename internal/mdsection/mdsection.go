// Package mdsection implements the line-based markdown section splitter
// Phase 2 (extract) and Phase 4 (update) both depend on. The contract is
// deliberately line-oriented, not an AST: Phase 4 replaces exact line
// ranges that Phase 2 recorded, so the two phases must agree on line
// numbers to the byte. Substituting a full markdown parser here would
// break that invariant the moment it reflows or renumbers anything.
package mdsection

import (
	"path/filepath"
	"regexp"
	"strings"
)

// headerRE matches a line starting with two or more '#' followed by a space.
var headerRE = regexp.MustCompile(`^(#{2,})\s+(.+)$`)

// Section is one `##+`-delimited region of a markdown file.
type Section struct {
	Index     int    // 0-based position among sections in the file
	Title     string // header text with leading '#'s stripped
	Level     int    // number of leading '#' characters
	LineStart int    // 1-indexed, inclusive, the header line itself
	LineEnd   int    // 1-indexed, inclusive, trailing blank lines trimmed
	Content   string // raw lines LineStart..LineEnd joined with '\n', including the header
}

// Parse splits text into sections. If no header line exists and the text
// has non-whitespace content, a single synthetic section spanning the
// whole file is returned with title = filenameHint sans extension.
func Parse(text, filenameHint string) []Section {
	lines := strings.Split(text, "\n")

	var headerLines []int // 1-indexed line numbers of header lines
	for i, line := range lines {
		if headerRE.MatchString(line) {
			headerLines = append(headerLines, i+1)
		}
	}

	if len(headerLines) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		base := strings.TrimSuffix(filepath.Base(filenameHint), filepath.Ext(filenameHint))
		trimmed := trimTrailingBlank(lines)
		return []Section{{
			Index:     0,
			Title:     base,
			Level:     0,
			LineStart: 1,
			LineEnd:   len(trimmed),
			Content:   strings.Join(trimmed, "\n"),
		}}
	}

	var sections []Section
	for i, start := range headerLines {
		end := len(lines)
		if i+1 < len(headerLines) {
			end = headerLines[i+1] - 1
		}

		body := trimTrailingBlank(lines[start-1 : end])
		if !hasNonHeaderContent(body) {
			continue // empty section: header with no body after trimming
		}

		match := headerRE.FindStringSubmatch(lines[start-1])
		sections = append(sections, Section{
			Index:     len(sections),
			Title:     strings.TrimSpace(match[2]),
			Level:     len(match[1]),
			LineStart: start,
			LineEnd:   start + len(body) - 1,
			Content:   strings.Join(body, "\n"),
		})
	}
	return sections
}

// trimTrailingBlank drops trailing blank (whitespace-only) lines.
func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// hasNonHeaderContent reports whether body has any non-whitespace line
// besides the header line itself.
func hasNonHeaderContent(body []string) bool {
	for _, line := range body[1:] {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}
