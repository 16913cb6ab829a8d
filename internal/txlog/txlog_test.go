package txlog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndRead_PreservesOrder(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)

	actions := []string{"backup", "replace", "archive"}
	for i, a := range actions {
		entry := Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Phase:     "update",
			Action:    a,
			Target:    "Topics/Trading.md",
			Status:    StatusSuccess,
		}
		if err := l.Append(entry); err != nil {
			t.Fatalf("Append(%s): %v", a, err)
		}
	}

	entries, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, a := range actions {
		if entries[i].Action != a {
			t.Errorf("entries[%d].Action = %q, want %q", i, entries[i].Action, a)
		}
	}
}

func TestRead_MissingFileReturnsEmpty(t *testing.T) {
	l := &Log{path: filepath.Join(t.TempDir(), "nonexistent.log")}
	entries, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("got %v, want nil", entries)
	}
}

func TestGetByAction(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(Entry{Action: "backup", Target: "a.md", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "replace", Target: "a.md", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "backup", Target: "b.md", Status: StatusSuccess})

	got, err := l.GetByAction("backup")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}

func TestGetFailed(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(Entry{Action: "replace", Target: "a.md", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "replace", Target: "b.md", Status: StatusFailed, Detail: "hash mismatch"})

	got, err := l.GetFailed()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Target != "b.md" {
		t.Fatalf("got %v, want one failed entry for b.md", got)
	}
}

func TestGetReverse(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(Entry{Action: "first", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "second", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "third", Status: StatusSuccess})

	got, err := l.GetReverse()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"third", "second", "first"}
	for i, w := range want {
		if got[i].Action != w {
			t.Errorf("got[%d].Action = %q, want %q", i, got[i].Action, w)
		}
	}
}

func TestSummarize(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "transaction.log"))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(Entry{Action: "backup", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "backup", Status: StatusSuccess})
	_ = l.Append(Entry{Action: "replace", Status: StatusSuccess})

	counts, err := l.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if counts["backup"] != 2 || counts["replace"] != 1 {
		t.Errorf("got %v", counts)
	}
}

func TestArchive_RenamesAndResets(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "transaction.log")
	l, err := Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(Entry{Action: "backup", Status: StatusSuccess})

	now := time.Date(2026, 2, 5, 9, 30, 0, 0, time.UTC)
	archivedPath, err := l.Archive(now)
	if err != nil {
		t.Fatal(err)
	}
	wantName := "transaction_20260205093000.log"
	if filepath.Base(archivedPath) != wantName {
		t.Errorf("archived path = %q, want basename %q", archivedPath, wantName)
	}

	archivedEntries, err := readEntries(archivedPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(archivedEntries) != 1 {
		t.Fatalf("archived log has %d entries, want 1", len(archivedEntries))
	}

	freshEntries, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(freshEntries) != 0 {
		t.Fatalf("fresh log has %d entries, want 0", len(freshEntries))
	}
}
