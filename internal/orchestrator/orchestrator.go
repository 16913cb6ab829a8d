// Package orchestrator is the composition root: it owns the shared
// backup/transaction-log/checkpoint/embedding handles, walks the six
// phases in order, persists a checkpoint after each one, and drives
// rollback on an uncaught phase error. No business logic lives here,
// only wiring.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/HendryAvila/polish/internal/backupstore"
	"github.com/HendryAvila/polish/internal/checkpoint"
	"github.com/HendryAvila/polish/internal/config"
	"github.com/HendryAvila/polish/internal/embedcache"
	"github.com/HendryAvila/polish/internal/phase0"
	"github.com/HendryAvila/polish/internal/phase1"
	"github.com/HendryAvila/polish/internal/phase2"
	"github.com/HendryAvila/polish/internal/phase4"
	"github.com/HendryAvila/polish/internal/phase5"
	"github.com/HendryAvila/polish/internal/phase6"
	"github.com/HendryAvila/polish/internal/report"
	"github.com/HendryAvila/polish/internal/similarity"
	"github.com/HendryAvila/polish/internal/topics"
	"github.com/HendryAvila/polish/internal/txlog"
)

// Options mirrors the CLI's resume/override flags.
type Options struct {
	DryRun          bool
	ArchiveEnabled  *bool // nil means "use config.archive.enabled"
	LookbackDays    *int
	NoResume        bool
	ClearCheckpoint bool
	ForceFromPhase  *int
	Verbose         bool
}

// Run takes the workspace root base (see ResolveWorkspace), wires every
// phase's shared dependencies, and executes the six-phase pipeline, resuming from a
// prior incomplete checkpoint unless opts disables it.
func Run(ctx context.Context, base string, cfg config.Config, opts Options, logger Logger) (*phase5.Result, error) {
	memoryDir := filepath.Join(base, "memory")
	cacheDir := filepath.Join(memoryDir, cfg.Advanced.CacheDirectory)
	topicsDir := filepath.Join(memoryDir, cfg.Advanced.TopicsDirectory)
	reportsDir := filepath.Join(memoryDir, cfg.Logging.ReportLocation)

	store, err := backupstore.New(filepath.Join(cacheDir, "backups"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: backup store: %w", err)
	}
	txLog, err := txlog.Open(filepath.Join(cacheDir, "transaction.log"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: transaction log: %w", err)
	}
	ckptStore := checkpoint.New(filepath.Join(cacheDir, cfg.Recovery.CheckpointFile), base)

	if opts.ClearCheckpoint {
		if err := ckptStore.Delete(); err != nil {
			return nil, fmt.Errorf("orchestrator: clear checkpoint: %w", err)
		}
	}

	checkpointsEnabled := cfg.Recovery.EnableCheckpoints && !opts.NoResume
	resume, err := phase6.Run(ckptStore, checkpointsEnabled)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: phase6: %w", err)
	}

	now := time.Now().UTC()
	state := &checkpoint.State{Version: 1, StartedAt: now, Stats: map[string]any{}}
	startPhase := 0

	var (
		p0Result  *phase0.Result
		p1Result  *phase1.Result
		p2Result  *phase2.Result
		orgResult *topics.OrganizeResult
	)

	if resume.ShouldResume {
		logger.Printf("resuming: %s", resume.Summary)
		state = resume.Checkpoint
		if state.Stats == nil {
			state.Stats = map[string]any{}
		}
		startPhase = state.CurrentPhase + 1
		p0Result, p1Result, p2Result, orgResult, err = hydrate(state)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: hydrate checkpoint state: %w", err)
		}
	} else {
		sessionID, err := checkpoint.GenerateSessionID(now)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		state.SessionID = sessionID
	}
	if opts.ForceFromPhase != nil {
		startPhase = *opts.ForceFromPhase
		if startPhase > 0 && p1Result == nil {
			loaded, err := ckptStore.Load()
			if err != nil {
				return nil, fmt.Errorf("orchestrator: load checkpoint for --force-from-phase: %w", err)
			}
			if loaded == nil {
				return nil, fmt.Errorf("orchestrator: --force-from-phase %d requires a prior checkpoint", startPhase)
			}
			state = loaded
			if state.Stats == nil {
				state.Stats = map[string]any{}
			}
			p0Result, p1Result, p2Result, orgResult, err = hydrate(state)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: hydrate checkpoint state: %w", err)
			}
		}
	}

	lookbackDays := cfg.Advanced.LookbackDays
	if opts.LookbackDays != nil {
		lookbackDays = *opts.LookbackDays
	}
	archiveEnabled := cfg.Archive.Enabled
	if opts.ArchiveEnabled != nil {
		archiveEnabled = *opts.ArchiveEnabled
	}

	runPhase := func(id int, fn func() error) error {
		if id < startPhase {
			return nil
		}
		if err := fn(); err != nil {
			outcomes, rbErr := phase5.Rollback(store, txLog)
			if rbErr != nil {
				logger.Printf("phase %d failed (%v); rollback also failed: %v", id, err, rbErr)
			} else {
				logger.Printf("phase %d failed (%v), rollback applied to %d entries", id, err, len(outcomes))
				writeRollbackReport(reportsDir, state.SessionID, err, outcomes, logger)
			}
			return fmt.Errorf("orchestrator: phase %d: %w", id, err)
		}
		state.CurrentPhase = id
		state.CompletedSteps = append(state.CompletedSteps, fmt.Sprintf("%d", id))
		if state.Status == checkpoint.StatusCompleted {
			// phase5 already saved and archived the completed checkpoint.
			return nil
		}
		if err := ckptStore.Save(state); err != nil {
			return fmt.Errorf("orchestrator: save checkpoint after phase %d: %w", id, err)
		}
		return nil
	}

	stdLogger, _ := logger.(*log.Logger)

	if err := runPhase(0, func() error {
		r, err := phase0.Run(base, lookbackDays, store, txLog, stdLogger)
		if err != nil {
			return err
		}
		p0Result = r
		state.FilesProcessed = []string{}
		state.Stats["backups_created"] = r.BackupsCreated
		state.Stats["backup_size"] = r.BackupSize
		return nil
	}); err != nil {
		return nil, err
	}

	engine, closeCache, err := buildSimilarityEngine(cfg, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build similarity engine: %w", err)
	}
	defer closeCache()
	engine.Logger = stdLogger

	if err := runPhase(1, func() error {
		r, err := phase1.Run(ctx, memoryDir, lookbackDays, cfg.Advanced.MinTagFrequency, engine)
		if err != nil {
			return err
		}
		p1Result = r
		state.SimilarityMethod = r.SimilarityMethod
		return persistDiscovery(state, r)
	}); err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &phase5.Result{}, nil
	}

	if err := runPhase(2, func() error {
		r, err := phase2.Run(memoryDir, filepath.Join(cacheDir, "extractions"), nil, nil, p1Result.CanonicalMap.AliasMap, now)
		if err != nil {
			return err
		}
		p2Result = r
		return persistExtractions(state, r)
	}); err != nil {
		return nil, err
	}

	if err := runPhase(3, func() error {
		r, err := topics.Organize(topicsDir, p2Result.Extractions, p1Result.MergeProposals, txLog, now)
		if err != nil {
			return err
		}
		orgResult = r
		state.Stats["entries_written"] = r.EntriesWritten
		state.Stats["cross_refs_created"] = r.CrossRefsCreated
		state.Stats["merges_completed"] = r.MergesCompleted
		state.Stats["topic_files_created"] = r.TopicFilesCreated
		return nil
	}); err != nil {
		return nil, err
	}

	if err := runPhase(4, func() error {
		r, err := phase4.Run(memoryDir, topicsDir, p2Result.Extractions, archiveEnabled, cfg.Archive.GracePeriodDays, store, txLog, now)
		if err != nil {
			return err
		}
		state.Stats["files_archived"] = r.FilesArchived
		return nil
	}); err != nil {
		return nil, err
	}

	var result *phase5.Result
	if err := runPhase(5, func() error {
		session := report.Session{
			SessionID:         state.SessionID,
			StartedAt:         state.StartedAt,
			FinishedAt:        time.Now().UTC(),
			DiscoveredTopics:  len(p1Result.DiscoveredTopics),
			Extractions:       len(p2Result.Extractions),
			EntriesWritten:    orgResult.EntriesWritten,
			CrossRefsCreated:  orgResult.CrossRefsCreated,
			MergesCompleted:   orgResult.MergesCompleted,
			TopicFilesCreated: orgResult.TopicFilesCreated,
			FilesArchived:     statInt(state.Stats, "files_archived"),
			BackupSize:        p0Result.BackupSize,
		}
		cleanupAge := cfg.Cleanup.KeepSessionCacheDuration()
		if !cfg.Cleanup.AutoCleanup {
			cleanupAge = 0
		}
		r, err := phase5.Run(topicsDir, reportsDir, p2Result.Extractions, p1Result.MergeProposals, store, txLog, ckptStore, state, session, cleanupAge, now)
		if err != nil {
			return err
		}
		result = r
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// buildSimilarityEngine wires the embedding cache and a NoopProvider
// behind the similarity engine. No HTTPProvider is wired here, so with
// topic_similarity.method "embedding" the engine falls back to the
// mechanical method. The returned closer releases the cache's SQLite
// handle.
func buildSimilarityEngine(cfg config.Config, cacheDir string) (*similarity.Engine, func(), error) {
	var rules []similarity.Rule
	for _, group := range cfg.Synonyms {
		rules = append(rules, similarity.Rule(group))
	}

	threshold := cfg.TopicSimilarity.Threshold
	if threshold == 0 {
		threshold = similarity.DefaultThreshold
	}

	cacheCfg := embedcache.DefaultConfig()
	cacheCfg.DataDir = filepath.Join(cacheDir, "embeddings")
	cacheCfg.HotCacheSize = cfg.Performance.BatchSize * 8
	cache, err := embedcache.New(cacheCfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open embedding cache: %w", err)
	}

	return &similarity.Engine{
		Synonyms:     rules,
		Threshold:    threshold,
		Method:       cfg.TopicSimilarity.Method,
		Cache:        cache,
		Provider:     embedcache.NoopProvider{},
		BatchSize:    cfg.Performance.BatchSize,
		Dimensions:   cfg.TopicSimilarity.Dimensions,
		ModelVersion: cfg.TopicSimilarity.Model,
	}, func() { _ = cache.Close() }, nil
}

// writeRollbackReport documents an aggregate rollback triggered by a
// phase failure, the same rollback-<date>.md phase5 writes when its own
// validation fails. Best-effort: a failure to write the report is logged
// and does not mask the phase error.
func writeRollbackReport(reportsDir, sessionID string, phaseErr error, outcomes []report.RestoreOutcome, logger Logger) {
	occurred := time.Now().UTC()
	rb := report.Rollback{
		SessionID:        sessionID,
		OccurredAt:       occurred,
		ValidationErrors: []string{phaseErr.Error()},
		RestoreOutcomes:  outcomes,
	}
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		logger.Printf("rollback report: ensure reports dir: %v", err)
		return
	}
	path := filepath.Join(reportsDir, "rollback-"+occurred.Format("2006-01-02")+".md")
	if err := os.WriteFile(path, []byte(rb.Render()), 0o644); err != nil {
		logger.Printf("rollback report: write %s: %v", path, err)
	}
}

// persistDiscovery folds Phase 1's output into the checkpoint state so a
// resumed run can rebuild it without re-scanning.
func persistDiscovery(state *checkpoint.State, r *phase1.Result) error {
	tags := make([]string, 0, len(r.DiscoveredTopics))
	for tag := range r.DiscoveredTopics {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	state.DiscoveredTopics = tags

	proposals, err := json.Marshal(r.MergeProposals)
	if err != nil {
		return fmt.Errorf("marshal merge proposals: %w", err)
	}
	state.MergeProposals = proposals

	canonical, err := json.Marshal(r.CanonicalMap)
	if err != nil {
		return fmt.Errorf("marshal canonical map: %w", err)
	}
	state.CanonicalMap = canonical
	return nil
}

// persistExtractions folds Phase 2's output into the checkpoint state.
func persistExtractions(state *checkpoint.State, r *phase2.Result) error {
	data, err := json.Marshal(r.Extractions)
	if err != nil {
		return fmt.Errorf("marshal extractions: %w", err)
	}
	state.Extractions = data

	seen := make(map[string]bool)
	var files []string
	for _, e := range r.Extractions {
		if !seen[e.SourceFile] {
			seen[e.SourceFile] = true
			files = append(files, e.SourceFile)
		}
	}
	state.FilesProcessed = files
	return nil
}

// hydrate rebuilds the per-phase results a resumed run would otherwise
// have computed, from the checkpoint's persisted payloads, so phases that
// run after the resume point see the same inputs an uninterrupted run
// would have produced.
func hydrate(state *checkpoint.State) (*phase0.Result, *phase1.Result, *phase2.Result, *topics.OrganizeResult, error) {
	p0 := &phase0.Result{
		BackupsCreated: statInt(state.Stats, "backups_created"),
		BackupSize:     int64(statInt(state.Stats, "backup_size")),
		SessionID:      state.SessionID,
		StartedAt:      state.StartedAt,
	}

	p1 := &phase1.Result{
		DiscoveredTopics: make(map[string]int, len(state.DiscoveredTopics)),
		CanonicalMap:     topics.NewCanonicalMap(),
		SimilarityMethod: state.SimilarityMethod,
	}
	for _, tag := range state.DiscoveredTopics {
		p1.DiscoveredTopics[tag] = 0
	}
	if len(state.MergeProposals) > 0 {
		if err := json.Unmarshal(state.MergeProposals, &p1.MergeProposals); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse merge proposals: %w", err)
		}
	}
	if len(state.CanonicalMap) > 0 {
		if err := json.Unmarshal(state.CanonicalMap, p1.CanonicalMap); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse canonical map: %w", err)
		}
	}
	for pair := p1.CanonicalMap.Canonical.Oldest(); pair != nil; pair = pair.Next() {
		p1.DiscoveredTopics[pair.Key] = pair.Value.Count
	}

	p2 := &phase2.Result{}
	if len(state.Extractions) > 0 {
		if err := json.Unmarshal(state.Extractions, &p2.Extractions); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse extractions: %w", err)
		}
	}

	org := &topics.OrganizeResult{
		EntriesWritten:    statInt(state.Stats, "entries_written"),
		CrossRefsCreated:  statInt(state.Stats, "cross_refs_created"),
		MergesCompleted:   statInt(state.Stats, "merges_completed"),
		TopicFilesCreated: statInt(state.Stats, "topic_files_created"),
	}
	return p0, p1, p2, org, nil
}

// statInt reads an integer out of the checkpoint's stats map, tolerating
// the float64 that JSON round-tripping turns every number into.
func statInt(stats map[string]any, key string) int {
	switch v := stats[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// ResolveWorkspace finds the root directory containing memory/, checking
// MEMORY_DIR and OPENCLAW_WORKSPACE first, then walking up to six parents
// of cwd looking for sibling AGENTS.md and memory/ markers.
func ResolveWorkspace() (string, error) {
	for _, key := range []string{"MEMORY_DIR", "OPENCLAW_WORKSPACE"} {
		if v := os.Getenv(key); v != "" {
			if info, err := os.Stat(filepath.Join(v, "memory")); err == nil && info.IsDir() {
				return v, nil
			}
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("orchestrator: getwd: %w", err)
	}

	current := cwd
	for i := 0; i <= 6; i++ {
		_, agentsErr := os.Stat(filepath.Join(current, "AGENTS.md"))
		memInfo, memErr := os.Stat(filepath.Join(current, "memory"))
		if agentsErr == nil && memErr == nil && memInfo.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return cwd, nil
}

// Logger is the minimal logging surface the Orchestrator needs,
// satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}
