// Package summary maintains the append-only run history of the collector.
// One record is written per run regardless of outcome; the file is never
// truncated or rewritten by this package.
package summary

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome labels persisted in run records.
const (
	OutcomeSuccess      = "success"
	OutcomeMarketClosed = "market_closed"
	OutcomeFailure      = "failure"
)

// Record is one append-only run summary entry.
type Record struct {
	RunAt        time.Time        `json:"run_at"`
	Outcome      string           `json:"outcome"`
	FailureClass string           `json:"failure_class,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	ArtifactPath *string          `json:"artifact_path"`
	Records      int              `json:"records,omitempty"`
	Endpoints    []string         `json:"endpoints,omitempty"`
	IndexValue   *decimal.Decimal `json:"index_value,omitempty"`
}

// Log is a JSON-lines run journal on disk.
type Log struct {
	path string
}

// NewLog locates the journal inside dir.
func NewLog(dir, file string) *Log {
	if file == "" {
		file = "collector_runs.jsonl"
	}
	return &Log{path: filepath.Join(dir, file)}
}

// Path returns the journal file location.
func (l *Log) Path() string {
	return l.path
}

// Append adds one record to the journal. The file is opened append-only so
// pre-existing history is never clobbered, even across independent process
// invocations.
func (l *Log) Append(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	line = append(line, '\n')

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("append run record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A missing journal is an
// empty history, not an error.
func (l *Log) Recent(limit int) ([]Record, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, err
	}

	// Reverse into newest-first order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Between returns records with from <= run_at < to in chronological order.
func (l *Log) Between(from, to time.Time) ([]Record, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := records[:0]
	for _, rec := range records {
		if rec.RunAt.Before(from) || !rec.RunAt.Before(to) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

func (l *Log) readAll() ([]Record, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn trailing line from a crashed run is skipped rather
			// than poisoning the whole history.
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run journal: %w", err)
	}
	return records, nil
}
