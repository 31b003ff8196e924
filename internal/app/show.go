package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sherap24/nepse-data-automation/internal/storage"
	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

// Show prints recent run records, preferring the database mirror when one is
// configured and falling back to the on-disk run journal.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	records, err := a.recentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no runs recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run (NPT)\tOutcome\tClass\tRecords\tIndex\tArtifact\tReason")

	for _, rec := range records {
		artifact := ""
		if rec.ArtifactPath != nil {
			artifact = *rec.ArtifactPath
		}
		index := ""
		if rec.IndexValue != nil {
			index = rec.IndexValue.StringFixed(2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.RunAt.In(a.Calendar.Location()).Format(time.RFC3339),
			rec.Outcome,
			rec.FailureClass,
			rec.Records,
			index,
			artifact,
			sanitizeInline(rec.Reason),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) recentRuns(ctx context.Context, limit int) ([]summary.Record, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return a.newJournal().Recent(limit)
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromRunRecords(runs), nil
}

func fromRunRecords(runs []storage.RunRecord) []summary.Record {
	records := make([]summary.Record, 0, len(runs))
	for _, run := range runs {
		records = append(records, summary.Record{
			RunAt:        run.RunAt,
			Outcome:      run.Outcome,
			FailureClass: run.FailureClass,
			Reason:       run.Reason,
			ArtifactPath: run.ArtifactPath,
			Records:      run.Records,
			Endpoints:    run.Endpoints,
			IndexValue:   run.IndexValue,
		})
	}
	return records
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
