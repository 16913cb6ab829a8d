// Package similarity ranks candidate tag merges from three independent
// sources — synonym rules, mechanical (Levenshtein) scoring, and optional
// semantic embeddings — and produces one ordered, deduplicated proposal
// list. Embeddings are an optional capability: when the provider is
// absent or fails, the engine degrades to mechanical scoring.
package similarity

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/HendryAvila/polish/internal/embedcache"
	"github.com/HendryAvila/polish/internal/mathutil"
)

// Method names recorded on a MergeProposal.
const (
	MethodSynonymRule = "synonym_rule"
	MethodLevenshtein = "levenshtein"
	MethodEmbedding   = "embedding"
)

// DefaultThreshold is topic_similarity.threshold's default.
const DefaultThreshold = 0.8

// Proposal is a candidate merge of alias into canonical.
type Proposal struct {
	Canonical  string  `json:"canonical"`
	Alias      string  `json:"alias"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Rule is an ordered synonym list [preferred, alt1, alt2, ...].
type Rule []string

// Engine computes pairwise similarity across three sources. Embeddings
// are optional: a nil Cache/Provider (or a failing provider) makes Engine
// silently behave as mechanical-only.
type Engine struct {
	Synonyms     []Rule
	Threshold    float64
	Method       string // "levenshtein" or "embedding"; selects source 3
	Cache        *embedcache.Store
	Provider     embedcache.Provider
	BatchSize    int
	Dimensions   int
	ModelVersion string
	Logger       *log.Logger
}

// ComputePairwiseSimilarity is the package's public operation: it ranks
// merge candidates across every enabled source, in discoveredTopics
// frequency order for canonical tie-breaking.
func (e *Engine) ComputePairwiseSimilarity(ctx context.Context, tags []string, discoveredTopics map[string]int) ([]Proposal, error) {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	sorted := sortedTags(tags)

	var proposals []Proposal
	proposals = append(proposals, e.synonymProposals(sorted, discoveredTopics)...)
	proposals = append(proposals, mechanicalProposals(sorted, discoveredTopics, threshold)...)

	if e.Method == MethodEmbedding {
		semantic, err := e.semanticProposals(ctx, sorted, discoveredTopics, threshold)
		if err != nil {
			e.logf("embedding similarity unavailable, falling back to mechanical: %v", err)
		} else {
			proposals = append(proposals, semantic...)
		}
	}

	return dedupeAndSort(proposals), nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// sortedTags returns tags in a stable, deterministic order used for
// tie-breaking canonical selection.
func sortedTags(tags []string) []string {
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}

// synonymProposals emits confidence-1.0 proposals from the configured
// synonym rules.
func (e *Engine) synonymProposals(tags []string, counts map[string]int) []Proposal {
	present := make(map[string]bool, len(tags))
	for _, t := range tags {
		present[t] = true
	}

	var out []Proposal
	for _, rule := range e.Synonyms {
		if len(rule) == 0 {
			continue
		}
		preferred := rule[0]
		alts := rule[1:]

		if present[preferred] {
			for _, alt := range alts {
				if present[alt] {
					out = append(out, Proposal{Canonical: preferred, Alias: alt, Confidence: 1.0, Method: MethodSynonymRule})
				}
			}
			continue
		}

		var presentAlts []string
		for _, alt := range alts {
			if present[alt] {
				presentAlts = append(presentAlts, alt)
			}
		}
		if len(presentAlts) >= 2 {
			canonical := presentAlts[0]
			for _, alias := range presentAlts[1:] {
				out = append(out, Proposal{Canonical: canonical, Alias: alias, Confidence: 1.0, Method: MethodSynonymRule})
			}
		}
	}
	return out
}

// mechanicalProposals scores every unordered tag pair with the
// Levenshtein-plus-bonus formula and keeps those at or above threshold.
func mechanicalProposals(tags []string, counts map[string]int, threshold float64) []Proposal {
	var out []Proposal
	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			a, b := tags[i], tags[j]
			if shouldSkip(a, b) {
				continue
			}
			score := mechanicalScore(a, b)
			if score < threshold {
				continue
			}
			canonical, alias := pickCanonical(a, b, counts)
			out = append(out, Proposal{Canonical: canonical, Alias: alias, Confidence: score, Method: MethodLevenshtein})
		}
	}
	return out
}

// mechanicalScore is normalized Levenshtein similarity plus containment,
// abbreviation, and common-prefix bonuses, capped at 1.0.
func mechanicalScore(a, b string) float64 {
	score := 1 - mathutil.NormalizedLevenshtein(a, b)

	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	contains := strings.Contains(longer, shorter)
	if contains {
		score += 0.25
		if len(shorter) <= 3 && strings.HasPrefix(longer, shorter) {
			score += 0.5
		}
	}

	if commonPrefixLen(a, b) >= 3 {
		score += 0.30
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// shouldSkip rejects a pair early when neither contains the other, their
// lengths differ by more than half the longer, and the first three
// characters share nothing.
func shouldSkip(a, b string) bool {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return false
	}

	la, lb := float64(len(a)), float64(len(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	lengthSkip := diff > 0.5*maxLen

	prefixA, prefixB := firstN(a, 3), firstN(b, 3)
	sharedPrefixChar := false
	for _, ca := range prefixA {
		for _, cb := range prefixB {
			if ca == cb {
				sharedPrefixChar = true
				break
			}
		}
	}

	return lengthSkip && !sharedPrefixChar
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// pickCanonical chooses the higher-frequency tag; ties break to the
// lexicographically-first tag (a and b arrive already sorted by the
// caller, so ties preserve that order).
func pickCanonical(a, b string, counts map[string]int) (canonical, alias string) {
	if counts[b] > counts[a] {
		return b, a
	}
	return a, b
}

// semanticProposals ranks pairs by cosine similarity over cached or
// freshly computed embeddings.
func (e *Engine) semanticProposals(ctx context.Context, tags []string, counts map[string]int, threshold float64) ([]Proposal, error) {
	if e.Cache == nil || e.Provider == nil {
		return nil, fmt.Errorf("similarity: no embedding cache/provider configured")
	}

	vectors, err := embedcache.GetEmbeddings(ctx, e.Cache, e.Provider, tags, e.BatchSize, e.Dimensions, e.ModelVersion)
	if err != nil {
		return nil, err
	}

	var out []Proposal
	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			a, b := tags[i], tags[j]
			contains := strings.Contains(a, b) || strings.Contains(b, a)
			if !contains && shouldSkip(a, b) {
				continue
			}
			va, vb := vectors[a], vectors[b]
			if va == nil || vb == nil {
				continue
			}
			sim, err := mathutil.CosineSimilarity(va, vb)
			if err != nil {
				continue
			}
			if sim < threshold {
				continue
			}
			canonical, alias := pickCanonical(a, b, counts)
			out = append(out, Proposal{Canonical: canonical, Alias: alias, Confidence: sim, Method: MethodEmbedding})
		}
	}
	return out, nil
}

// dedupeAndSort deduplicates by (alias, canonical), keeping the
// highest-confidence proposal for each pair, then sorts by confidence
// descending.
func dedupeAndSort(proposals []Proposal) []Proposal {
	best := make(map[[2]string]Proposal)
	for _, p := range proposals {
		key := [2]string{p.Alias, p.Canonical}
		if existing, ok := best[key]; !ok || p.Confidence > existing.Confidence {
			best[key] = p
		}
	}

	out := make([]Proposal, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Canonical != out[j].Canonical {
			return out[i].Canonical < out[j].Canonical
		}
		return out[i].Alias < out[j].Alias
	})
	return out
}
