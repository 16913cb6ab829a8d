// Package phase1 discovers topics: it scans the lookback window's daily
// logs for hashtags, filters by frequency, ranks merge candidates, and
// builds the canonical/alias map the rest of the run consumes.
package phase1

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/HendryAvila/polish/internal/scanner"
	"github.com/HendryAvila/polish/internal/similarity"
	"github.com/HendryAvila/polish/internal/topics"
)

// Result is Phase 1's output.
type Result struct {
	DiscoveredTopics map[string]int
	Occurrences      map[string][]scanner.Occurrence
	MergeProposals   []similarity.Proposal
	CanonicalMap     *topics.CanonicalMap
	SimilarityMethod string
}

// Run scans memoryDir for logs dated within [today-lookbackDays, today],
// extracts and filters hashtags, and ranks merge proposals via engine.
func Run(ctx context.Context, memoryDir string, lookbackDays, minTagFrequency int, engine *similarity.Engine) (*Result, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -lookbackDays)

	logs, err := scanner.FindDailyLogs(memoryDir, &start, &now)
	if err != nil {
		return nil, fmt.Errorf("phase1: scan logs: %w", err)
	}

	counts := make(map[string]int)
	occurrences := make(map[string][]scanner.Occurrence)
	for _, rel := range logs {
		data, err := os.ReadFile(filepath.Join(memoryDir, rel))
		if err != nil {
			return nil, fmt.Errorf("phase1: read %s: %w", rel, err)
		}
		byTag, fileCounts := scanner.ExtractHashtags(string(data), rel)
		for tag, occs := range byTag {
			occurrences[tag] = append(occurrences[tag], occs...)
		}
		for tag, n := range fileCounts {
			counts[tag] += n
		}
	}

	discovered := make(map[string]int)
	for tag, n := range counts {
		if n >= minTagFrequency {
			discovered[tag] = n
		}
	}

	tags := make([]string, 0, len(discovered))
	for tag := range discovered {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	proposals, err := engine.ComputePairwiseSimilarity(ctx, tags, discovered)
	if err != nil {
		return nil, fmt.Errorf("phase1: compute similarity: %w", err)
	}

	canonicalMap := topics.BuildCanonicalMap(tags, discovered, proposals)

	method := similarity.MethodLevenshtein
	if engine.Method == similarity.MethodEmbedding {
		method = similarity.MethodEmbedding
	}

	return &Result{
		DiscoveredTopics: discovered,
		Occurrences:      occurrences,
		MergeProposals:   proposals,
		CanonicalMap:     canonicalMap,
		SimilarityMethod: method,
	}, nil
}
