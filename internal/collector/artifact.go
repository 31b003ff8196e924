package collector

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Sherap24/nepse-data-automation/internal/fetcher"
)

// artifactName embeds the run timestamp down to the second, so runs on the
// 15-minute cadence can never collide.
func artifactName(runAt time.Time) string {
	return fmt.Sprintf("nepse_cloud_%s.csv", runAt.Format("20060102_150405"))
}

// writeArtifact renders the snapshot as a CSV artifact under dataDir. The
// file is created exclusively: an existing artifact for the same second is
// a write failure, never an overwrite.
func writeArtifact(dataDir string, runAt time.Time, snap *fetcher.Snapshot) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, artifactName(runAt))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	fieldKeys := unionFieldKeys(snap.Records)
	header := append([]string{"collection_timestamp", "collection_time_npt", "data_source", "record_id"}, fieldKeys...)
	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("write artifact header: %w", err)
	}

	timestamp := runAt.Format(time.RFC3339)
	localTime := runAt.Format("2006-01-02 15:04:05")
	row := make([]string, 0, len(header))
	for _, rec := range snap.Records {
		row = row[:0]
		row = append(row, timestamp, localTime, rec.Source, rec.ID)
		for _, key := range fieldKeys {
			row = append(row, rec.Fields[key])
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("write artifact row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	return path, nil
}

// unionFieldKeys computes the sorted union of field names across records so
// heterogeneous endpoints share one header.
func unionFieldKeys(records []fetcher.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for key := range rec.Fields {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
