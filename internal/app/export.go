package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

// Export renders run history as CSV and/or a PNG chart of collected record
// counts and the NEPSE index level.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := a.runsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) runsBetween(ctx context.Context, from, to time.Time) ([]summary.Record, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return a.newJournal().Between(from, to)
	}
	defer closeStore()

	runs, err := store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return fromRunRecords(runs), nil
}

func downsampleRuns(records []summary.Record, max int) []summary.Record {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]summary.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRunsCSV(path string, records []summary.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"run_at", "outcome", "failure_class", "records", "index_value", "artifact_path", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		artifact := ""
		if rec.ArtifactPath != nil {
			artifact = *rec.ArtifactPath
		}
		index := ""
		if rec.IndexValue != nil {
			index = rec.IndexValue.String()
		}
		row := []string{
			rec.RunAt.Format(time.RFC3339),
			rec.Outcome,
			rec.FailureClass,
			strconv.Itoa(rec.Records),
			index,
			artifact,
			sanitizeInline(rec.Reason),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRunsPNG(path string, records []summary.Record) error {
	if len(records) < 2 {
		return errors.New("need at least two runs to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	counts := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.RunAt
		counts[i] = float64(rec.Records)
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Records",
			XValues: x,
			YValues: counts,
		},
	}

	indexX, indexY := indexSeries(records)
	if len(indexX) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "NEPSE Index",
			XValues: indexX,
			YValues: indexY,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Records per run",
		},
		YAxisSecondary: chart.YAxis{
			Name: "Index level",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func indexSeries(records []summary.Record) ([]time.Time, []float64) {
	var x []time.Time
	var y []float64
	for _, rec := range records {
		if rec.IndexValue == nil {
			continue
		}
		x = append(x, rec.RunAt)
		y = append(y, rec.IndexValue.InexactFloat64())
	}
	return x, y
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
