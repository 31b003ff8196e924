package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMarketClosed signals that the upstream itself reports a closed market.
// The local calendar may disagree (holidays, upstream lag); callers must
// treat this as a recognised state, not a failure.
var ErrMarketClosed = errors.New("upstream reports market closed")

// ErrMalformed wraps payloads that were received but could not be used.
var ErrMalformed = errors.New("malformed upstream payload")

// Record is one normalised row from an upstream endpoint.
type Record struct {
	Source string
	ID     string
	Fields map[string]string
}

// Snapshot is one point-in-time capture of market data across endpoints.
type Snapshot struct {
	TakenAt time.Time
	Records []Record
	// Sources maps endpoint name to the number of records it contributed.
	Sources map[string]int
	// Failed lists endpoints that could not be collected this run.
	Failed []string
	// Index is the NEPSE index level when the upstream exposed one.
	Index *decimal.Decimal
}

// TotalRecords counts records across all sources.
func (s *Snapshot) TotalRecords() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Empty reports whether the snapshot carries no data at all, which during a
// calendar-open window means the upstream and the calendar disagree.
func (s *Snapshot) Empty() bool {
	return s.TotalRecords() == 0
}

// SnapshotSource abstracts the upstream market-data API.
type SnapshotSource interface {
	// Probe checks reachability without pulling data.
	Probe(ctx context.Context) error
	// Fetch retrieves one snapshot. Returns ErrMarketClosed when the
	// upstream signals a closed market.
	Fetch(ctx context.Context) (*Snapshot, error)
}
