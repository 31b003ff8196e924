package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord mirrors one run-summary entry in the optional database store.
type RunRecord struct {
	RunAt        time.Time
	Outcome      string
	FailureClass string
	Reason       string
	ArtifactPath *string
	Records      int
	Endpoints    []string
	IndexValue   *decimal.Decimal
	CreatedAt    time.Time
}
