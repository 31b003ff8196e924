package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendNeverTruncates(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir, "runs.jsonl")

	first := Record{RunAt: time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC), Outcome: OutcomeSuccess}
	second := Record{RunAt: time.Date(2026, 8, 23, 11, 30, 0, 0, time.UTC), Outcome: OutcomeFailure, FailureClass: "transport"}

	if err := log.Append(first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := log.Append(second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "runs.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 journal lines, got %d", len(lines))
	}
}

func TestRecentNewestFirst(t *testing.T) {
	log := NewLog(t.TempDir(), "")

	base := time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := Record{RunAt: base.Add(time.Duration(i) * 15 * time.Minute), Outcome: OutcomeSuccess}
		if err := log.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := log.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if !recent[0].RunAt.After(recent[1].RunAt) || !recent[1].RunAt.After(recent[2].RunAt) {
		t.Fatalf("records not newest-first: %v", recent)
	}
}

func TestRecentMissingJournal(t *testing.T) {
	log := NewLog(t.TempDir(), "")

	recent, err := log.Recent(10)
	if err != nil {
		t.Fatalf("recent on missing journal: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected empty history, got %d records", len(recent))
	}
}

func TestBetweenHalfOpen(t *testing.T) {
	log := NewLog(t.TempDir(), "")

	base := time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := log.Append(Record{RunAt: base.Add(time.Duration(i) * time.Hour), Outcome: OutcomeSuccess}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := log.Between(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(got))
	}
	if !got[0].RunAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("window start should be inclusive, got %s", got[0].RunAt)
	}
}

func TestTornLineSkipped(t *testing.T) {
	dir := t.TempDir()
	log := NewLog(dir, "runs.jsonl")

	if err := log.Append(Record{RunAt: time.Now().UTC(), Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, "runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := file.WriteString(`{"run_at": "2026-08-`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	file.Close()

	recent, err := log.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected torn line to be skipped, got %d records", len(recent))
	}
}
