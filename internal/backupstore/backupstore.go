// Package backupstore implements the content-addressed backup layer Phase
// 0 populates before anything is modified, and Phase 5's rollback restores
// from. Backups are plain files named <sha256>.md, deduplicated by
// content: two originals with identical bytes share one record.
package backupstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HendryAvila/polish/internal/atomicio"
)

// Store is the content-addressed backup directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backupstore: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backup directory path.
func (s *Store) Dir() string { return s.dir }

// pathFor returns the backup path for a given content hash.
func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.dir, hash+".md")
}

// Create writes bytes as a backup keyed by hash (computed from bytes if
// hash is empty). If a backup with that hash already exists, Create is a
// no-op and returns its path (idempotent, and safe under concurrent
// identical writes since the content fully determines the target name).
func (s *Store) Create(bytes []byte, hash string) (string, error) {
	if hash == "" {
		hash = atomicio.Hash(bytes)
	}
	target := s.pathFor(hash)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := atomicio.WriteAtomic(target, bytes); err != nil {
		return "", fmt.Errorf("backupstore: create backup %s: %w", hash, err)
	}
	return target, nil
}

// Has reports whether a backup exists for hash.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Restore reads the backup keyed by hash and writes it to target. This is
// a plain (non-atomic) write: rollback correctness depends on the backup
// bytes being correct, not on the restore write itself being crash-safe.
func (s *Store) Restore(hash, target string) error {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		return fmt.Errorf("backupstore: read backup %s: %w", hash, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("backupstore: ensure dir for %s: %w", target, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("backupstore: restore to %s: %w", target, err)
	}
	return nil
}

// CleanOld deletes backup entries whose modification time is older than
// maxAge and reports the count removed.
func (s *Store) CleanOld(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("backupstore: list %s: %w", s.dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
