// Package collector performs one bounded data-collection attempt per
// invocation: one probe, one snapshot fetch, at most one artifact write, and
// exactly one run-summary record. Retries belong to the external trigger's
// next tick, never to this package.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sherap24/nepse-data-automation/internal/alerting"
	"github.com/Sherap24/nepse-data-automation/internal/fetcher"
	"github.com/Sherap24/nepse-data-automation/internal/storage"
	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

// Status is the top-level classification of a run.
type Status string

const (
	StatusSuccess      Status = summary.OutcomeSuccess
	StatusMarketClosed Status = summary.OutcomeMarketClosed
	StatusFailure      Status = summary.OutcomeFailure
)

// FailureClass narrows a failed run for operators.
type FailureClass string

const (
	FailureTransport FailureClass = "transport"
	FailureParse     FailureClass = "parse"
	FailureEmpty     FailureClass = "empty"
	FailureWrite     FailureClass = "write"
)

// Outcome is the tagged result of a single run.
type Outcome struct {
	Status       Status
	Class        FailureClass
	Reason       string
	ArtifactPath string
	Records      int
	Endpoints    []string
}

// Failed reports whether the run ended in a hard failure. A detected closed
// market is not a failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailure
}

// Options tune the collector.
type Options struct {
	DataDir string
	// Clock returns "now" in the exchange zone. Injected so runs are
	// testable without wall-clock coupling.
	Clock func() time.Time
	// NotifyClosed also alerts when the upstream reports a closed market
	// while the local calendar considered it open.
	NotifyClosed bool
	// Describe renders the session schedule applying at an instant, used
	// to annotate closed-market alerts.
	Describe func(time.Time) string
}

// Collector executes single collection runs against a snapshot source.
type Collector struct {
	source       fetcher.SnapshotSource
	journal      *summary.Log
	store        storage.RunRecordStore
	notifier     alerting.Notifier
	logger       zerolog.Logger
	dataDir      string
	clock        func() time.Time
	notifyClosed bool
	describe     func(time.Time) string
}

// New constructs a Collector. The store and notifier are optional; a nil
// store keeps persistence file-only and a nil notifier disables alerts.
func New(opts Options, source fetcher.SnapshotSource, journal *summary.Log, store storage.RunRecordStore, notifier alerting.Notifier, logger zerolog.Logger) *Collector {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	return &Collector{
		source:       source,
		journal:      journal,
		store:        store,
		notifier:     notifier,
		logger:       logger.With().Str("component", "collector").Logger(),
		dataDir:      dataDir,
		clock:        clock,
		notifyClosed: opts.NotifyClosed,
		describe:     opts.Describe,
	}
}

// Run performs exactly one collection attempt. The caller is expected to
// have consulted the session calendar already; Run still defends against
// the upstream reporting a closed market on its own. All failure paths are
// returned as typed outcomes, never as panics, and every run appends one
// summary record.
func (c *Collector) Run(ctx context.Context) Outcome {
	runAt := c.clock()
	c.logger.Info().Time("run_at", runAt).Msg("starting collection run")

	if err := c.source.Probe(ctx); err != nil {
		return c.finish(ctx, runAt, failure(FailureTransport, fmt.Sprintf("api unreachable: %v", err)), nil)
	}

	snap, err := c.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, fetcher.ErrMarketClosed) {
			c.logger.Info().Time("run_at", runAt).Msg("upstream reports market closed")
			return c.finish(ctx, runAt, Outcome{Status: StatusMarketClosed}, nil)
		}
		return c.finish(ctx, runAt, failure(classify(err), err.Error()), nil)
	}

	if snap.Empty() {
		if len(snap.Failed) > 0 {
			reason := fmt.Sprintf("no data collected from any endpoint (%d failed)", len(snap.Failed))
			return c.finish(ctx, runAt, failure(FailureEmpty, reason), snap)
		}
		// Reachable, well-formed, and empty: the upstream disagrees with
		// the local calendar. Recognised state, not an error.
		c.logger.Info().Time("run_at", runAt).Msg("empty snapshot, treating market as closed")
		return c.finish(ctx, runAt, Outcome{Status: StatusMarketClosed}, snap)
	}

	artifactPath, err := writeArtifact(c.dataDir, runAt, snap)
	if err != nil {
		return c.finish(ctx, runAt, failure(FailureWrite, fmt.Sprintf("write artifact: %v", err)), snap)
	}

	outcome := Outcome{
		Status:       StatusSuccess,
		ArtifactPath: artifactPath,
		Records:      snap.TotalRecords(),
		Endpoints:    sourceNames(snap),
	}
	return c.finish(ctx, runAt, outcome, snap)
}

// finish appends the run-summary record, mirrors it to the optional store,
// and dispatches alerts. A summary-append failure degrades an otherwise
// successful run to a write-class failure so the audit trail stays honest;
// the console log remains the reporting channel of last resort.
func (c *Collector) finish(ctx context.Context, runAt time.Time, outcome Outcome, snap *fetcher.Snapshot) Outcome {
	if err := c.journal.Append(c.summaryRecord(runAt, outcome, snap)); err != nil {
		c.logger.Error().Err(err).Time("run_at", runAt).Msg("failed to append run summary")
		if outcome.Status == StatusSuccess {
			degraded := failure(FailureWrite, fmt.Sprintf("summary append failed after writing %s: %v", outcome.ArtifactPath, err))
			degraded.ArtifactPath = outcome.ArtifactPath
			outcome = degraded
		}
	}

	if c.store != nil {
		if err := c.store.UpsertRunRecord(ctx, c.runRecord(runAt, outcome, snap)); err != nil {
			c.logger.Error().Err(err).Time("run_at", runAt).Msg("failed to mirror run record to database")
		}
	}

	c.logOutcome(runAt, outcome)
	c.alert(ctx, runAt, outcome)
	return outcome
}

func (c *Collector) summaryRecord(runAt time.Time, outcome Outcome, snap *fetcher.Snapshot) summary.Record {
	rec := summary.Record{
		RunAt:        runAt,
		Outcome:      string(outcome.Status),
		FailureClass: string(outcome.Class),
		Reason:       outcome.Reason,
		Records:      outcome.Records,
		Endpoints:    outcome.Endpoints,
	}
	if outcome.Status == StatusSuccess {
		path := outcome.ArtifactPath
		rec.ArtifactPath = &path
	}
	if snap != nil {
		rec.IndexValue = snap.Index
	}
	return rec
}

func (c *Collector) runRecord(runAt time.Time, outcome Outcome, snap *fetcher.Snapshot) storage.RunRecord {
	rec := storage.RunRecord{
		RunAt:        runAt,
		Outcome:      string(outcome.Status),
		FailureClass: string(outcome.Class),
		Reason:       outcome.Reason,
		Records:      outcome.Records,
		Endpoints:    outcome.Endpoints,
	}
	if outcome.Status == StatusSuccess {
		path := outcome.ArtifactPath
		rec.ArtifactPath = &path
	}
	if snap != nil {
		rec.IndexValue = snap.Index
	}
	return rec
}

func (c *Collector) logOutcome(runAt time.Time, outcome Outcome) {
	switch outcome.Status {
	case StatusSuccess:
		c.logger.Info().Time("run_at", runAt).
			Str("artifact", outcome.ArtifactPath).
			Int("records", outcome.Records).
			Strs("endpoints", outcome.Endpoints).
			Msg("collection successful")
	case StatusMarketClosed:
		c.logger.Info().Time("run_at", runAt).Msg("market closed detected, no collection")
	default:
		c.logger.Error().Time("run_at", runAt).
			Str("class", string(outcome.Class)).
			Str("reason", outcome.Reason).
			Msg("collection failed")
	}
}

func (c *Collector) alert(ctx context.Context, runAt time.Time, outcome Outcome) {
	if c.notifier == nil {
		return
	}
	closedMismatch := outcome.Status == StatusMarketClosed && c.notifyClosed
	if !outcome.Failed() && !closedMismatch {
		return
	}

	note := alerting.Notification{
		RunAt:        runAt,
		Outcome:      string(outcome.Status),
		FailureClass: string(outcome.Class),
		Reason:       outcome.Reason,
		ArtifactPath: outcome.ArtifactPath,
	}
	// A closed-market alert means the upstream disagrees with the local
	// calendar; the schedule description tells the operator which window
	// the calendar believed was active.
	if closedMismatch && c.describe != nil {
		note.Schedule = c.describe(runAt)
	}
	if err := c.notifier.Notify(ctx, note); err != nil {
		c.logger.Error().Err(err).Time("run_at", runAt).Msg("failed to dispatch alert")
	}
}

func failure(class FailureClass, reason string) Outcome {
	return Outcome{Status: StatusFailure, Class: class, Reason: reason}
}

// classify maps a fetch error to its failure class: malformed payloads are
// parse failures, everything else (timeouts, refused connections, bad
// statuses) is transport.
func classify(err error) FailureClass {
	if errors.Is(err, fetcher.ErrMalformed) {
		return FailureParse
	}
	return FailureTransport
}

func sourceNames(snap *fetcher.Snapshot) []string {
	names := make([]string, 0, len(snap.Sources))
	for name := range snap.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
