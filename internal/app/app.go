package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sherap24/nepse-data-automation/internal/alerting"
	"github.com/Sherap24/nepse-data-automation/internal/collector"
	"github.com/Sherap24/nepse-data-automation/internal/config"
	"github.com/Sherap24/nepse-data-automation/internal/fetcher"
	"github.com/Sherap24/nepse-data-automation/internal/market"
	"github.com/Sherap24/nepse-data-automation/internal/scheduler"
	"github.com/Sherap24/nepse-data-automation/internal/storage"
	"github.com/Sherap24/nepse-data-automation/internal/summary"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Calendar *market.Calendar
}

// NewApp constructs a new application handle, including the session calendar
// derived from config.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	windows, err := cfg.SessionWindows()
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}

	cal, err := market.NewCalendar(loc, windows)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger.With().Str("component", "app").Logger(),
		Calendar: cal,
	}, nil
}

func (a *App) newSource() fetcher.SnapshotSource {
	return fetcher.NewNepseAPI(fetcher.Options{
		BaseURL:      a.Config.API.BaseURL,
		Timeout:      a.Config.API.RequestTimeout,
		ProbeTimeout: a.Config.API.ProbeTimeout,
		UserAgent:    a.Config.API.UserAgent,
		Endpoints:    a.Config.API.Endpoints,
		Clock:        a.Calendar.Now,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.RequestTimeout, a.Logger)
	}
	return nil
}

func (a *App) newJournal() *summary.Log {
	return summary.NewLog(a.Config.Output.LogsDir, a.Config.Output.SummaryFile)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newCollector wires a collector with the optional store and notifier. The
// returned cleanup must be called when the collector is no longer needed.
func (a *App) newCollector(ctx context.Context) (*collector.Collector, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; run records stay file-only")
	}
	cleanup := func() {}
	if closeStore != nil {
		cleanup = closeStore
	}

	var runStore storage.RunRecordStore
	if store != nil {
		runStore = store
	}

	col := collector.New(collector.Options{
		DataDir:      a.Config.Output.DataDir,
		Clock:        a.Calendar.Now,
		NotifyClosed: a.Config.Alerting.NotifyClosed,
		Describe:     a.Calendar.DescribeSchedule,
	}, a.newSource(), a.newJournal(), runStore, a.newNotifier(), a.Logger)

	return col, cleanup, nil
}

// Collect evaluates the session calendar for "now" and, if the market is
// open (or force is set), performs a single collection run. A failed run is
// returned as an error for the invoking trigger to observe; a closed market
// is a clean no-op.
func (a *App) Collect(ctx context.Context, force bool) error {
	now := a.Calendar.Now()
	a.Logger.Info().Str("schedule", a.Calendar.DescribeSchedule(now)).Msg("session check")

	if !a.Calendar.IsOpen(now) {
		if !force {
			a.Logger.Info().Msg("market is closed - no collection needed")
			return nil
		}
		a.Logger.Warn().Msg("market is closed but collection forced")
	}

	col, cleanup, err := a.newCollector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	outcome := col.Run(ctx)
	if outcome.Failed() {
		return fmt.Errorf("collection failed (%s): %s", outcome.Class, outcome.Reason)
	}
	return nil
}

// Watch runs the local aligned loop: every interval, re-evaluate the
// calendar and collect while the market is open.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	col, cleanup, err := a.newCollector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		now := a.Calendar.Now()
		if !a.Calendar.IsOpen(now) {
			a.Logger.Debug().Str("schedule", a.Calendar.DescribeSchedule(now)).Msg("market closed, skipping tick")
			return nil
		}
		if outcome := col.Run(tickCtx); outcome.Failed() {
			return fmt.Errorf("collection failed (%s): %s", outcome.Class, outcome.Reason)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

// Status prints the open/closed verdict and the applicable session window
// for the given instant (defaults to now).
func (a *App) Status(at *time.Time) error {
	t := a.Calendar.Now()
	if at != nil {
		t = at.In(a.Calendar.Location())
	}

	verdict := "CLOSED"
	if a.Calendar.IsOpen(t) {
		verdict = "OPEN"
	}

	fmt.Fprintf(os.Stdout, "time:     %s\n", t.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(os.Stdout, "market:   %s\n", verdict)
	fmt.Fprintf(os.Stdout, "schedule: %s\n", a.Calendar.DescribeSchedule(t))
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting run history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
