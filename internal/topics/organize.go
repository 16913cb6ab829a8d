package topics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HendryAvila/polish/internal/similarity"
	"github.com/HendryAvila/polish/internal/txlog"
)

// OrganizeResult is Phase 3's output.
type OrganizeResult struct {
	EntriesWritten    int
	CrossRefsCreated  int
	MergesCompleted   int
	TopicFilesCreated int
}

// Organize writes each extraction's full entry to its primary topic file
// and a cross-reference stub to each secondary topic file, then applies
// every merge proposal, logging a merge_topic_file transaction for each
// one actually applied.
func Organize(topicsDir string, extractions []Extraction, proposals []similarity.Proposal, txLog *txlog.Log, now time.Time) (*OrganizeResult, error) {
	if err := os.MkdirAll(topicsDir, 0o755); err != nil {
		return nil, fmt.Errorf("topics: ensure topics dir: %w", err)
	}

	var result OrganizeResult
	for _, e := range extractions {
		primaryPath, err := ResolveTopicPath(topicsDir, e.PrimaryTopic)
		if err != nil {
			return nil, fmt.Errorf("topics: resolve primary %q: %w", e.PrimaryTopic, err)
		}
		created := !fileExists(primaryPath)
		if err := AppendEntry(primaryPath, SanitizeTopicName(e.PrimaryTopic), e.PrimaryTopic, now, RenderEntry(e)); err != nil {
			return nil, fmt.Errorf("topics: write entry for %s: %w", e.PrimaryTopic, err)
		}
		result.EntriesWritten++
		if created {
			result.TopicFilesCreated++
		}

		primaryName := SanitizeTopicName(e.PrimaryTopic)
		for _, secondary := range e.SecondaryTopics {
			secPath, err := ResolveTopicPath(topicsDir, secondary)
			if err != nil {
				return nil, fmt.Errorf("topics: resolve secondary %q: %w", secondary, err)
			}
			secCreated := !fileExists(secPath)
			if err := AppendEntry(secPath, SanitizeTopicName(secondary), secondary, now, RenderCrossReference(e, primaryName)); err != nil {
				return nil, fmt.Errorf("topics: write cross-reference for %s: %w", secondary, err)
			}
			result.CrossRefsCreated++
			if secCreated {
				result.TopicFilesCreated++
			}
		}
	}

	for _, p := range proposals {
		canonicalPath, err := ResolveTopicPath(topicsDir, p.Canonical)
		if err != nil {
			return nil, fmt.Errorf("topics: resolve merge canonical %q: %w", p.Canonical, err)
		}
		aliasName := SanitizeTopicName(p.Alias)
		aliasPath := filepath.Join(topicsDir, aliasName+".md")
		archivePath := ArchivedAliasPath(topicsDir, aliasName, now)

		applied, err := ApplyMerge(canonicalPath, aliasPath, archivePath, p, now)
		if err != nil {
			return nil, fmt.Errorf("topics: apply merge %s<-%s: %w", p.Canonical, p.Alias, err)
		}
		if !applied {
			continue
		}
		result.MergesCompleted++
		if txLog != nil {
			if err := txLog.Append(txlog.Entry{
				Timestamp:   now,
				Phase:       "phase3",
				Action:      "merge_topic_file",
				Source:      aliasPath,
				Destination: canonicalPath,
				Status:      txlog.StatusSuccess,
			}); err != nil {
				return nil, fmt.Errorf("topics: log merge transaction: %w", err)
			}
		}
	}

	return &result, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
