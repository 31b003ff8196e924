package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sherap24/nepse-data-automation/internal/alerting"
	"github.com/Sherap24/nepse-data-automation/internal/fetcher"
	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

type stubSource struct {
	probeErr error
	snap     *fetcher.Snapshot
	fetchErr error
}

func (s *stubSource) Probe(ctx context.Context) error {
	return s.probeErr
}

func (s *stubSource) Fetch(ctx context.Context) (*fetcher.Snapshot, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.snap, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func dataSnapshot(at time.Time) *fetcher.Snapshot {
	return &fetcher.Snapshot{
		TakenAt: at,
		Records: []fetcher.Record{
			{Source: "summary", ID: "summary_summary", Fields: map[string]string{"turnover": "1000000"}},
			{Source: "top_gainers", ID: "top_gainers_1", Fields: map[string]string{"symbol": "NABIL", "change": "4.2"}},
		},
		Sources: map[string]int{"summary": 1, "top_gainers": 1},
	}
}

func newTestCollector(t *testing.T, source fetcher.SnapshotSource, at time.Time, notifier alerting.Notifier) (*Collector, string, *summary.Log) {
	t.Helper()
	dir := t.TempDir()
	journal := summary.NewLog(filepath.Join(dir, "logs"), "")
	col := New(Options{
		DataDir: filepath.Join(dir, "data"),
		Clock:   fixedClock(at),
	}, source, journal, nil, notifier, zerolog.Nop())
	return col, filepath.Join(dir, "data"), journal
}

func TestRunSuccessWritesArtifactAndSummary(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{snap: dataSnapshot(runAt)}
	col, dataDir, journal := newTestCollector(t, source, runAt, nil)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Records != 2 {
		t.Fatalf("expected 2 records, got %d", outcome.Records)
	}

	if _, err := os.Stat(outcome.ArtifactPath); err != nil {
		t.Fatalf("artifact should exist: %v", err)
	}
	if filepath.Dir(outcome.ArtifactPath) != dataDir {
		t.Fatalf("artifact written outside data dir: %s", outcome.ArtifactPath)
	}

	recent, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected exactly one summary record, got %d", len(recent))
	}
	if recent[0].ArtifactPath == nil || *recent[0].ArtifactPath != outcome.ArtifactPath {
		t.Fatalf("summary record should reference the artifact: %+v", recent[0])
	}
}

func TestRunUpstreamClosedIsNotFailure(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{fetchErr: fmt.Errorf("summary: %w", fetcher.ErrMarketClosed)}
	notifier := &captureNotifier{}
	col, dataDir, journal := newTestCollector(t, source, runAt, notifier)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusMarketClosed {
		t.Fatalf("expected market closed outcome, got %+v", outcome)
	}
	if outcome.Failed() {
		t.Fatal("closed market must not count as failure")
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("closed market should not alert, got %d notes", len(notifier.notes))
	}

	assertNoArtifacts(t, dataDir)
	assertOneNullArtifactRecord(t, journal, summary.OutcomeMarketClosed)
}

func TestRunEmptySnapshotTreatedAsClosed(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{snap: &fetcher.Snapshot{TakenAt: runAt, Sources: map[string]int{}}}
	col, dataDir, journal := newTestCollector(t, source, runAt, nil)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusMarketClosed {
		t.Fatalf("expected market closed for empty snapshot, got %+v", outcome)
	}
	assertNoArtifacts(t, dataDir)
	assertOneNullArtifactRecord(t, journal, summary.OutcomeMarketClosed)
}

func TestRunEmptyWithEndpointFailuresIsEmptyFailure(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{snap: &fetcher.Snapshot{
		TakenAt: runAt,
		Sources: map[string]int{},
		Failed:  []string{"floorsheet", "summary"},
	}}
	col, dataDir, _ := newTestCollector(t, source, runAt, nil)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureEmpty {
		t.Fatalf("expected empty-class failure, got %+v", outcome)
	}
	assertNoArtifacts(t, dataDir)
}

func TestRunTransportFailure(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{fetchErr: errors.New("dial tcp 127.0.0.1:8000: i/o timeout")}
	notifier := &captureNotifier{}
	col, dataDir, journal := newTestCollector(t, source, runAt, notifier)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureTransport {
		t.Fatalf("expected transport failure, got %+v", outcome)
	}

	assertNoArtifacts(t, dataDir)
	assertOneNullArtifactRecord(t, journal, summary.OutcomeFailure)

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.notes))
	}
	if notifier.notes[0].FailureClass != string(FailureTransport) {
		t.Fatalf("alert should carry transport class: %+v", notifier.notes[0])
	}
}

func TestRunProbeFailureIsTransport(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{probeErr: errors.New("connection refused")}
	col, dataDir, _ := newTestCollector(t, source, runAt, nil)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureTransport {
		t.Fatalf("expected transport failure from probe, got %+v", outcome)
	}
	assertNoArtifacts(t, dataDir)
}

func TestRunMalformedPayloadIsParseFailure(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{fetchErr: fmt.Errorf("summary: decode payload: %w", fetcher.ErrMalformed)}
	col, _, _ := newTestCollector(t, source, runAt, nil)

	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureParse {
		t.Fatalf("expected parse failure, got %+v", outcome)
	}
}

func TestDistinctRunsNeverCollide(t *testing.T) {
	dir := t.TempDir()
	journal := summary.NewLog(filepath.Join(dir, "logs"), "")
	dataDir := filepath.Join(dir, "data")

	first := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	second := first.Add(15 * time.Minute)

	paths := make(map[string]bool)
	for _, at := range []time.Time{first, second} {
		source := &stubSource{snap: dataSnapshot(at)}
		col := New(Options{DataDir: dataDir, Clock: fixedClock(at)}, source, journal, nil, nil, zerolog.Nop())
		outcome := col.Run(context.Background())
		if outcome.Status != StatusSuccess {
			t.Fatalf("expected success at %s, got %+v", at, outcome)
		}
		paths[outcome.ArtifactPath] = true
	}

	if len(paths) != 2 {
		t.Fatalf("expected two distinct artifacts, got %v", paths)
	}
	for path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("artifact %s should survive subsequent runs: %v", path, err)
		}
	}
}

func TestRunClosedMarketAlertsWhenConfigured(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{fetchErr: fmt.Errorf("summary: %w", fetcher.ErrMarketClosed)}
	notifier := &captureNotifier{}

	dir := t.TempDir()
	journal := summary.NewLog(filepath.Join(dir, "logs"), "")
	col := New(Options{
		DataDir:      filepath.Join(dir, "data"),
		Clock:        fixedClock(runAt),
		NotifyClosed: true,
		Describe: func(at time.Time) string {
			return "regular session on " + at.Format("2006-01-02") + ", 11:00-15:00 NPT, market open"
		},
	}, source, journal, nil, notifier, zerolog.Nop())

	outcome := col.Run(context.Background())
	if outcome.Status != StatusMarketClosed {
		t.Fatalf("expected market closed outcome, got %+v", outcome)
	}
	if outcome.Failed() {
		t.Fatal("closed market must not count as failure")
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one closed-market alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Outcome != string(StatusMarketClosed) {
		t.Fatalf("alert should carry the closed outcome: %+v", note)
	}
	if note.Schedule == "" {
		t.Fatalf("closed-market alert should describe the expected session: %+v", note)
	}
}

func TestRunSummaryAppendFailureDegradesSuccess(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{snap: dataSnapshot(runAt)}

	dir := t.TempDir()
	// A regular file where the logs directory should be makes every append
	// fail while leaving the artifact write untouched.
	blocker := filepath.Join(dir, "logs")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	journal := summary.NewLog(blocker, "")
	col := New(Options{
		DataDir: filepath.Join(dir, "data"),
		Clock:   fixedClock(runAt),
	}, source, journal, nil, nil, zerolog.Nop())

	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureWrite {
		t.Fatalf("expected write-class failure when the summary cannot be appended, got %+v", outcome)
	}
	if outcome.ArtifactPath == "" {
		t.Fatalf("degraded outcome must keep the artifact reference: %+v", outcome)
	}
	if _, err := os.Stat(outcome.ArtifactPath); err != nil {
		t.Fatalf("artifact should stay on disk despite the degraded outcome: %v", err)
	}
}

func TestRunSameSecondTwiceIsWriteFailure(t *testing.T) {
	runAt := time.Date(2026, 8, 23, 11, 15, 0, 0, time.UTC)
	source := &stubSource{snap: dataSnapshot(runAt)}
	col, _, _ := newTestCollector(t, source, runAt, nil)

	if outcome := col.Run(context.Background()); outcome.Status != StatusSuccess {
		t.Fatalf("first run should succeed: %+v", outcome)
	}
	outcome := col.Run(context.Background())
	if outcome.Status != StatusFailure || outcome.Class != FailureWrite {
		t.Fatalf("duplicate timestamp must refuse to overwrite, got %+v", outcome)
	}
}

func assertNoArtifacts(t *testing.T, dataDir string) {
	t.Helper()
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		t.Fatalf("read data dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no artifacts, found %d files", len(entries))
	}
}

func assertOneNullArtifactRecord(t *testing.T, journal *summary.Log, wantOutcome string) {
	t.Helper()
	recent, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected exactly one summary record, got %d", len(recent))
	}
	if recent[0].Outcome != wantOutcome {
		t.Fatalf("expected outcome %q, got %q", wantOutcome, recent[0].Outcome)
	}
	if recent[0].ArtifactPath != nil {
		t.Fatalf("artifact_path should be null, got %q", *recent[0].ArtifactPath)
	}
}
