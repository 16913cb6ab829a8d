package atomicio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.md")

	if err := WriteAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("same bytes"))
	b := Hash([]byte("same bytes"))
	if a != b {
		t.Errorf("Hash not deterministic: %s != %s", a, b)
	}
	if a == Hash([]byte("different")) {
		t.Error("Hash collision on different input")
	}
}

func TestCopySafe(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "dst.md")

	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("seed src: %v", err)
	}
	if err := CopySafe(src, dst); err != nil {
		t.Fatalf("CopySafe: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile dst: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("dst content = %q, want %q", got, "payload")
	}
}

func TestMoveSafe(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "dst.md")

	if err := os.WriteFile(src, []byte("move me"), 0o644); err != nil {
		t.Fatalf("seed src: %v", err)
	}
	if err := MoveSafe(src, dst); err != nil {
		t.Fatalf("MoveSafe: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source still exists after move")
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile dst: %v", err)
	}
	if string(got) != "move me" {
		t.Errorf("dst content = %q", got)
	}
}
