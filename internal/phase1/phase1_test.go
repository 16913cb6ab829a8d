package phase1

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/polish/internal/similarity"
)

func TestRun_DiscoversAndFiltersByFrequency(t *testing.T) {
	dir := t.TempDir()
	today := time.Now().UTC().Format("2006-01-02")
	content := "## Morning\n\n#trading notes here\n\n## Evening\n\n#trading again, also #health"
	if err := os.WriteFile(filepath.Join(dir, "memory-"+today+".md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := &similarity.Engine{Threshold: 0.8}
	result, err := Run(context.Background(), dir, 7, 2, engine)
	if err != nil {
		t.Fatal(err)
	}

	if result.DiscoveredTopics["trading"] != 2 {
		t.Errorf("trading count = %d, want 2", result.DiscoveredTopics["trading"])
	}
	if _, ok := result.DiscoveredTopics["health"]; ok {
		t.Error("health (count 1) should have been filtered out by min_tag_frequency=2")
	}

	entry, ok := result.CanonicalMap.Canonical.Get("trading")
	if !ok || entry.Count != 2 {
		t.Errorf("canonical map entry for trading = %+v, ok=%v", entry, ok)
	}
}

func TestRun_SynonymMergeFoldsCounts(t *testing.T) {
	dir := t.TempDir()
	today := time.Now().UTC().Format("2006-01-02")
	content := "## A\n\n#trading #trading\n\n## B\n\n#trade"
	if err := os.WriteFile(filepath.Join(dir, "memory-"+today+".md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := &similarity.Engine{Threshold: 0.8, Synonyms: []similarity.Rule{{"trading", "trade"}}}
	result, err := Run(context.Background(), dir, 7, 1, engine)
	if err != nil {
		t.Fatal(err)
	}

	if result.CanonicalMap.AliasMap["trade"] != "trading" {
		t.Errorf("alias map = %v", result.CanonicalMap.AliasMap)
	}
	entry, ok := result.CanonicalMap.Canonical.Get("trading")
	if !ok || entry.Count != 3 {
		t.Errorf("expected folded count 3, got %+v ok=%v", entry, ok)
	}
}
