package app

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

func sampleRuns(n int) []summary.Record {
	base := time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC)
	records := make([]summary.Record, 0, n)
	for i := 0; i < n; i++ {
		index := decimal.NewFromFloat(2000 + float64(i))
		artifact := "data/nepse_cloud.csv"
		records = append(records, summary.Record{
			RunAt:        base.Add(time.Duration(i) * 15 * time.Minute),
			Outcome:      summary.OutcomeSuccess,
			Records:      100 + i,
			ArtifactPath: &artifact,
			IndexValue:   &index,
		})
	}
	return records
}

func TestDownsampleRunsKeepsEndpointsOfRange(t *testing.T) {
	records := sampleRuns(100)
	down := downsampleRuns(records, 10)
	if len(down) != 10 {
		t.Fatalf("expected 10 records, got %d", len(down))
	}
	if !down[0].RunAt.Equal(records[0].RunAt) {
		t.Fatalf("first record should survive downsampling")
	}
	if !down[len(down)-1].RunAt.Equal(records[len(records)-1].RunAt) {
		t.Fatalf("last record should survive downsampling")
	}
}

func TestDownsampleRunsNoopUnderLimit(t *testing.T) {
	records := sampleRuns(5)
	if got := downsampleRuns(records, 10); len(got) != 5 {
		t.Fatalf("expected untouched slice, got %d", len(got))
	}
}

func TestWriteRunsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "runs.csv")
	if err := writeRunsCSV(path, sampleRuns(3)); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[1][1] != summary.OutcomeSuccess {
		t.Fatalf("unexpected outcome column %v", rows[1])
	}
}

func TestWriteRunsPNGNeedsTwoPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.png")
	if err := writeRunsPNG(path, sampleRuns(1)); err == nil {
		t.Fatal("expected error for single-point chart")
	}
}
