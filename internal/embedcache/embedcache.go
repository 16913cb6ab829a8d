// Package embedcache is the persistent key-value store for semantic tag
// embeddings, fronted by an in-process LRU hot layer, plus the provider
// abstraction used to compute vectors that aren't cached yet.
package embedcache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	_ "modernc.org/sqlite"
)

// ErrNoProvider is returned by NoopProvider.Embed, signaling the caller to
// fall back to mechanical similarity.
var ErrNoProvider = errors.New("embedcache: no embedding provider configured")

// openDB is a package-level var so tests can inject a fake driver.
var openDB = sql.Open

// Vector is a stored embedding plus its provenance.
type Vector struct {
	Values       []float32
	Dimensions   int
	ComputedAt   time.Time
	ModelVersion string
}

// Config configures the Store.
type Config struct {
	// DataDir is the directory holding embeddings.db.
	DataDir string
	// HotCacheSize bounds the in-process LRU layer, derived from
	// performance.batch_size * 8 per the pipeline config.
	HotCacheSize int
}

// DefaultConfig returns sane defaults for a batch size of 10.
func DefaultConfig() Config {
	return Config{
		HotCacheSize: 80,
	}
}

// Store is the SQLite-backed embedding cache.
type Store struct {
	db  *sql.DB
	hot *lru.Cache[string, Vector]
}

// New opens (creating if needed) the embeddings database under
// cfg.DataDir and runs its migration.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("embedcache: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "embeddings.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("embedcache: pragma %q: %w", p, err)
		}
	}

	size := cfg.HotCacheSize
	if size <= 0 {
		size = DefaultConfig().HotCacheSize
	}
	hot, err := lru.New[string, Vector](size)
	if err != nil {
		return nil, fmt.Errorf("embedcache: create hot cache: %w", err)
	}

	s := &Store{db: db, hot: hot}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("embedcache: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			key           TEXT PRIMARY KEY,
			bytes         BLOB NOT NULL,
			dimensions    INTEGER NOT NULL,
			computed_at   TEXT NOT NULL,
			model_version TEXT NOT NULL
		)
	`)
	return err
}

// Get returns the cached vector for key, checking the hot layer first.
func (s *Store) Get(key string) (Vector, bool, error) {
	if v, ok := s.hot.Get(key); ok {
		return v, true, nil
	}

	row := s.db.QueryRow(`SELECT bytes, dimensions, computed_at, model_version FROM embeddings WHERE key = ?`, key)
	var data []byte
	var dims int
	var computedAt, modelVersion string
	if err := row.Scan(&data, &dims, &computedAt, &modelVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Vector{}, false, nil
		}
		return Vector{}, false, fmt.Errorf("embedcache: get %q: %w", key, err)
	}

	ts, err := time.Parse(time.RFC3339, computedAt)
	if err != nil {
		return Vector{}, false, fmt.Errorf("embedcache: parse computed_at for %q: %w", key, err)
	}
	v := Vector{
		Values:       decodeFloat32s(data, dims),
		Dimensions:   dims,
		ComputedAt:   ts,
		ModelVersion: modelVersion,
	}
	s.hot.Add(key, v)
	return v, true, nil
}

// Put persists v for key and populates the hot layer.
func (s *Store) Put(key string, v Vector) error {
	data := encodeFloat32s(v.Values)
	_, err := s.db.Exec(`
		INSERT INTO embeddings (key, bytes, dimensions, computed_at, model_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET bytes = excluded.bytes, dimensions = excluded.dimensions,
			computed_at = excluded.computed_at, model_version = excluded.model_version
	`, key, data, v.Dimensions, v.ComputedAt.Format(time.RFC3339), v.ModelVersion)
	if err != nil {
		return fmt.Errorf("embedcache: put %q: %w", key, err)
	}
	s.hot.Add(key, v)
	return nil
}

// encodeFloat32s packs values as little-endian float32, the fixed byte
// layout the cache commits to.
func encodeFloat32s(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(data []byte, dims int) []float32 {
	out := make([]float32, dims)
	for i := 0; i < dims && (i+1)*4 <= len(data); i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// Provider computes embeddings for tags not already cached.
type Provider interface {
	Embed(ctx context.Context, batch []string) ([][]float32, error)
}

// NoopProvider always fails with ErrNoProvider, letting the similarity
// engine fall back to mechanical scoring without special-casing a nil
// provider.
type NoopProvider struct{}

// Embed implements Provider.
func (NoopProvider) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	return nil, ErrNoProvider
}

// HTTPProvider posts batches to a configured embedding endpoint and
// retries transient failures with exponential backoff before surfacing
// the error to the caller.
type HTTPProvider struct {
	Endpoint     string
	ModelVersion string
	Client       *http.Client
	MaxElapsed   time.Duration
}

type embedRequest struct {
	Batch []string `json:"batch"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed implements Provider, retrying via cenkalti/backoff/v4 on request
// or non-200 failures.
func (p *HTTPProvider) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	var vectors [][]float32
	op := func() error {
		reqBody, err := json.Marshal(embedRequest{Batch: batch})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("embedcache: marshal request: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("embedcache: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("embedcache: request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("embedcache: provider returned %d", resp.StatusCode))
			}
			return fmt.Errorf("embedcache: provider returned %d", resp.StatusCode)
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("embedcache: decode response: %w", err))
		}
		vectors = out.Vectors
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if p.MaxElapsed > 0 {
		bo.MaxElapsedTime = p.MaxElapsed
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetEmbeddings returns vectors for every tag, drawing from cache where
// possible and computing the rest via provider in batches of batchSize.
// A provider failure is not fatal to the pipeline: the returned error
// signals the caller (the similarity engine) to fall back to mechanical
// scoring.
func GetEmbeddings(ctx context.Context, store *Store, provider Provider, tags []string, batchSize, dimensions int, modelVersion string) (map[string][]float32, error) {
	result := make(map[string][]float32, len(tags))
	var missing []string

	for _, tag := range tags {
		v, ok, err := store.Get(tag)
		if err != nil {
			return nil, err
		}
		if ok {
			result[tag] = v.Values
			continue
		}
		missing = append(missing, tag)
	}

	if len(missing) == 0 {
		return result, nil
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		vectors, err := provider.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedcache: provider embed: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedcache: provider returned %d vectors for %d tags", len(vectors), len(batch))
		}

		now := time.Now().UTC()
		for i, tag := range batch {
			vec := vectors[i]
			result[tag] = vec
			if err := store.Put(tag, Vector{
				Values:       vec,
				Dimensions:   dimensions,
				ComputedAt:   now,
				ModelVersion: modelVersion,
			}); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}
