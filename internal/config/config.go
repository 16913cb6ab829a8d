// Package config defines the already-parsed configuration record the
// core pipeline consumes. Loading a config file from disk, CLI flag
// parsing, and schema validation are all out of scope here — those are
// the CLI's job; this package only shapes the record and its defaults.
package config

import "time"

// Config is the fully-resolved record the Orchestrator and phases read.
type Config struct {
	ExecutionMode   string          `json:"execution_mode"`
	TopicSimilarity TopicSimilarity `json:"topic_similarity"`
	Synonyms        [][]string      `json:"synonyms"`
	Advanced        Advanced        `json:"advanced"`
	Archive         Archive         `json:"archive"`
	Recovery        Recovery        `json:"recovery"`
	Logging         Logging         `json:"logging"`
	Performance     Performance     `json:"performance"`
	Cleanup         Cleanup         `json:"cleanup"`
}

// TopicSimilarity selects the merge-ranking method and its threshold.
type TopicSimilarity struct {
	Method     string  `json:"method"` // "levenshtein" or "embedding"
	Threshold  float64 `json:"threshold"`
	Model      string  `json:"model,omitempty"` // "auto" or a path
	Dimensions int     `json:"dimensions,omitempty"`
}

// Advanced controls scanning and directory layout.
type Advanced struct {
	LookbackDays     int    `json:"lookback_days"`
	MinTagFrequency  int    `json:"min_tag_frequency"`
	TopicsDirectory  string `json:"topics_directory"`
	ArchiveDirectory string `json:"archive_directory"`
	CacheDirectory   string `json:"cache_directory"`
}

// Archive controls Phase 4's archival of aged daily logs.
type Archive struct {
	Enabled         bool `json:"enabled"`
	GracePeriodDays int  `json:"grace_period_days"`
}

// Recovery controls checkpoint persistence.
type Recovery struct {
	EnableCheckpoints bool   `json:"enable_checkpoints"`
	CheckpointFile    string `json:"checkpoint_file"`
}

// Logging controls verbosity and report placement.
type Logging struct {
	Verbose        bool   `json:"verbose"`
	ReportLocation string `json:"report_location"`
}

// Performance controls batching for the embedding provider.
type Performance struct {
	BatchSize int `json:"batch_size"`
}

// Cleanup controls backup/report retention.
type Cleanup struct {
	AutoCleanup           bool `json:"auto_cleanup"`
	KeepSessionCacheHours int  `json:"keep_session_cache_hours"`
}

// KeepSessionCacheDuration converts KeepSessionCacheHours (Open Question
// (c): the field's unit is hours) to a time.Duration.
func (c Cleanup) KeepSessionCacheDuration() time.Duration {
	return time.Duration(c.KeepSessionCacheHours) * time.Hour
}

// DefaultConfig returns the recognized keys' documented defaults.
func DefaultConfig() Config {
	return Config{
		ExecutionMode: "mechanical",
		TopicSimilarity: TopicSimilarity{
			Method:    "levenshtein",
			Threshold: 0.8,
		},
		Advanced: Advanced{
			LookbackDays:     7,
			MinTagFrequency:  2,
			TopicsDirectory:  "Topics",
			ArchiveDirectory: "Archive",
			CacheDirectory:   ".polish-cache",
		},
		Archive: Archive{
			Enabled:         true,
			GracePeriodDays: 3,
		},
		Recovery: Recovery{
			EnableCheckpoints: true,
			CheckpointFile:    "checkpoint.json",
		},
		Logging: Logging{
			Verbose:        false,
			ReportLocation: ".polish-reports",
		},
		Performance: Performance{
			BatchSize: 10,
		},
		Cleanup: Cleanup{
			AutoCleanup:           true,
			KeepSessionCacheHours: 24 * 30,
		},
	}
}
