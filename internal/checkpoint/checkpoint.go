// Package checkpoint implements the atomic persistent snapshot that lets a
// run resume across process lifetimes. A checkpoint is the entire
// accumulated pipeline state — discovered topics, proposals, canonical
// map, extractions, progress — serialized to one JSON file.
package checkpoint

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buger/jsonparser"

	"github.com/HendryAvila/polish/internal/atomicio"
)

// ErrBasePathMismatch is returned by Load when the stored checkpoint's
// base_path differs from the store's configured base, guarding against
// resuming against the wrong workspace.
var ErrBasePathMismatch = errors.New("checkpoint: base path mismatch")

// timeNow is a seam so tests can pin Save's UpdatedAt stamp.
var timeNow = time.Now

// StatusCompleted marks a checkpoint whose run finished successfully; on
// next launch Phase 6 archives rather than resumes it.
const StatusCompleted = "completed"

// State is the full pipeline snapshot persisted between phases.
type State struct {
	Version          int             `json:"version"`
	SessionID        string          `json:"session_id"`
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CurrentPhase     int             `json:"current_phase"`
	Status           string          `json:"status,omitempty"`
	CompletedSteps   []string        `json:"completed_steps"`
	Stats            map[string]any  `json:"stats"`
	DiscoveredTopics []string        `json:"discovered_topics"`
	MergeProposals   json.RawMessage `json:"merge_proposals,omitempty"`
	CanonicalMap     json.RawMessage `json:"canonical_map,omitempty"`
	Extractions      json.RawMessage `json:"extractions,omitempty"`
	FilesProcessed   []string        `json:"files_processed"`
	SimilarityMethod string          `json:"similarity_method,omitempty"`
	BasePath         string          `json:"base_path"`
}

// Progress returns current-phase progress as a percentage, per the
// six-phase pipeline (phases 0-5 after resume detection).
func (s *State) Progress() int {
	return int(float64(s.CurrentPhase) / 6.0 * 100)
}

// Store is the checkpoint file, path fixed at construction from the
// resolved workspace base.
type Store struct {
	path     string
	basePath string
}

// New returns a Store writing to path, scoped to basePath (the resolved
// workspace root recorded in and checked against every snapshot).
func New(path, basePath string) *Store {
	return &Store{path: path, basePath: basePath}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes state as the full checkpoint snapshot, stamping BasePath
// and UpdatedAt.
func (s *Store) Save(state *State) error {
	state.BasePath = s.basePath
	state.UpdatedAt = timeNow().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := atomicio.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Load reads the checkpoint. Returns (nil, nil) if no checkpoint file
// exists. Before unmarshaling the full snapshot, it peeks the stored
// base_path with jsonparser so a workspace mismatch fails fast without
// allocating extraction/proposal payloads that might be large.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	storedBase, err := jsonparser.GetString(data, "base_path")
	if err == nil && storedBase != s.basePath {
		return nil, fmt.Errorf("%w: checkpoint was written for %q, current workspace is %q", ErrBasePathMismatch, storedBase, s.basePath)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", s.path, err)
	}
	return &state, nil
}

// Delete removes the checkpoint file, if present.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete %s: %w", s.path, err)
	}
	return nil
}

// Archive renames the checkpoint to checkpoint_<startedAt yyyymmddHHMMSS>.json.
func (s *Store) Archive(state *State) (string, error) {
	suffix := state.StartedAt.Format("20060102150405")
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	archived := filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, suffix, ext))

	if err := os.Rename(s.path, archived); err != nil {
		return "", fmt.Errorf("checkpoint: archive %s: %w", s.path, err)
	}
	return archived, nil
}

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSessionID returns a new session id of the form
// <yyyymmddHHMMSS>-<6 random lowercase alphanumerics>.
func GenerateSessionID(now time.Time) (string, error) {
	suffix, err := randomAlphanumerics(6)
	if err != nil {
		return "", fmt.Errorf("checkpoint: generate session id: %w", err)
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102150405"), suffix), nil
}

func randomAlphanumerics(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return string(out), nil
}
