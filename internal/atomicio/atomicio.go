// Package atomicio implements the crash-safe write/move/copy primitives
// the whole pipeline relies on: every file this module produces lands on
// disk via a write-temp-then-rename, never a truncating in-place write.
package atomicio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// ErrHashMismatch is returned by CopySafe when the destination's hash does
// not match the source's after the copy completes.
var ErrHashMismatch = errors.New("atomicio: copy verification hash mismatch")

// Hash returns the hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex-encoded SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("atomicio: hash file %s: %w", path, err)
	}
	return Hash(data), nil
}

// tempToken produces the "monotonic token" suffix for a temp file. A UUIDv4
// is used rather than a timestamp so two writes issued within the same
// clock tick (common on fast filesystems) never collide.
func tempToken() string {
	return uuid.NewString()
}

// WriteAtomic writes data to path via a temp file in the same directory,
// reads the temp file back to verify byte equality, then renames it onto
// path. On any error the temp file is removed (ignoring not-found).
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp." + tempToken()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicio: ensure dir %s: %w", dir, err)
	}

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("atomicio: write temp %s: %w", tmp, err)
	}

	verify, err := os.ReadFile(tmp)
	if err != nil {
		removeIgnoreNotExist(tmp)
		return fmt.Errorf("atomicio: read back temp %s: %w", tmp, err)
	}
	if !bytes.Equal(verify, data) {
		removeIgnoreNotExist(tmp)
		return fmt.Errorf("atomicio: temp file %s did not round-trip", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		removeIgnoreNotExist(tmp)
		return fmt.Errorf("atomicio: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// MoveSafe renames src to dst. On a cross-device error it falls back to
// copy-with-verify then unlinks src.
func MoveSafe(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return fmt.Errorf("atomicio: rename %s -> %s: %w", src, dst, err)
	}

	if err := CopySafe(src, dst); err != nil {
		return fmt.Errorf("atomicio: cross-device move %s -> %s: %w", src, dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("atomicio: unlink source %s after move: %w", src, err)
	}
	return nil
}

// CopySafe copies src to dst atomically and re-hashes the destination to
// confirm it matches the source's hash.
func CopySafe(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("atomicio: read source %s: %w", src, err)
	}
	srcHash := Hash(data)

	if err := WriteAtomic(dst, data); err != nil {
		return fmt.Errorf("atomicio: write destination %s: %w", dst, err)
	}

	dstHash, err := HashFile(dst)
	if err != nil {
		return fmt.Errorf("atomicio: hash destination %s: %w", dst, err)
	}
	if dstHash != srcHash {
		return fmt.Errorf("atomicio: %s -> %s: %w", src, dst, ErrHashMismatch)
	}
	return nil
}

func removeIgnoreNotExist(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		_ = err // best-effort cleanup
	}
}

// isCrossDevice reports whether err is an EXDEV-style cross-device rename failure.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}
