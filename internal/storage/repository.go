package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	upsertRunRecordSQL = `INSERT INTO run_records (
        run_at,
        outcome,
        failure_class,
        reason,
        artifact_path,
        records,
        endpoints,
        index_value
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (run_at) DO UPDATE
    SET
        outcome       = EXCLUDED.outcome,
        failure_class = EXCLUDED.failure_class,
        reason        = EXCLUDED.reason,
        artifact_path = EXCLUDED.artifact_path,
        records       = EXCLUDED.records,
        endpoints     = EXCLUDED.endpoints,
        index_value   = EXCLUDED.index_value;`

	listRunsBetweenSQL = `SELECT
        run_at, outcome, failure_class, reason, artifact_path, records, endpoints, index_value, created_at
    FROM run_records
    WHERE run_at >= $1
      AND run_at < $2
    ORDER BY run_at;`

	listRecentRunsSQL = `SELECT
        run_at, outcome, failure_class, reason, artifact_path, records, endpoints, index_value, created_at
    FROM run_records
    ORDER BY run_at DESC
    LIMIT $1;`

	countRunsSQL = `SELECT COUNT(*) FROM run_records;`
)

// RunRecordStore defines operations for run-record persistence.
type RunRecordStore interface {
	UpsertRunRecord(ctx context.Context, rec RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
}

// Store provides pgx-backed run-record persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertRunRecord persists or updates a run record keyed by run timestamp.
func (s *Store) UpsertRunRecord(ctx context.Context, rec RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var artifact interface{}
	if rec.ArtifactPath != nil {
		artifact = *rec.ArtifactPath
	}

	var index interface{}
	if rec.IndexValue != nil {
		index = rec.IndexValue.String()
	}

	_, execErr := pool.Exec(ctx, upsertRunRecordSQL,
		rec.RunAt,
		rec.Outcome,
		rec.FailureClass,
		rec.Reason,
		artifact,
		rec.Records,
		rec.Endpoints,
		index,
	)
	if execErr != nil {
		return fmt.Errorf("upsert run record: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists the most recent runs ordered by descending run time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	return collectRunRecords(rows, limit)
}

// ListRunsBetween lists runs within a half-open time window.
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	defer rows.Close()

	return collectRunRecords(rows, 0)
}

// CountRuns counts stored run records.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

func collectRunRecords(rows pgx.Rows, sizeHint int) ([]RunRecord, error) {
	records := make([]RunRecord, 0, sizeHint)
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRunRecord(rows pgx.Rows) (RunRecord, error) {
	var (
		rec      RunRecord
		artifact sql.NullString
		index    sql.NullString
	)

	if err := rows.Scan(
		&rec.RunAt,
		&rec.Outcome,
		&rec.FailureClass,
		&rec.Reason,
		&artifact,
		&rec.Records,
		&rec.Endpoints,
		&index,
		&rec.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}

	if artifact.Valid {
		path := artifact.String
		rec.ArtifactPath = &path
	}
	if index.Valid {
		value, err := decimal.NewFromString(index.String)
		if err != nil {
			return RunRecord{}, fmt.Errorf("parse index value: %w", err)
		}
		rec.IndexValue = &value
	}

	return rec, nil
}

var _ RunRecordStore = (*Store)(nil)
