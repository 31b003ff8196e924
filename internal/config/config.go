package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Sherap24/nepse-data-automation/internal/logging"
	"github.com/Sherap24/nepse-data-automation/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Market    MarketConfig    `mapstructure:"market"`
	API       APIConfig       `mapstructure:"api"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MarketConfig controls the trading calendar. Windows replace the default
// Sunday-Thursday/Friday sessions when present, so holiday calendar changes
// need no code change.
type MarketConfig struct {
	Timezone string         `mapstructure:"timezone"`
	Windows  []WindowConfig `mapstructure:"windows"`
}

// WindowConfig is one weekday-scoped session in config form.
type WindowConfig struct {
	Name  string   `mapstructure:"name"`
	Days  []string `mapstructure:"days"`
	Open  string   `mapstructure:"open"`
	Close string   `mapstructure:"close"`
}

// APIConfig covers the local NepseAPI server.
type APIConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	ProbeTimeout   time.Duration     `mapstructure:"probe_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	Endpoints      map[string]string `mapstructure:"endpoints"`
}

// OutputConfig locates on-disk artifacts and the run summary log.
type OutputConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	LogsDir     string `mapstructure:"logs_dir"`
	SummaryFile string `mapstructure:"summary_file"`
}

// DatabaseConfig encapsulates the optional PostgreSQL run-record mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the local watch loop cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines failure alert routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	NotifyClosed   bool           `mapstructure:"notify_closed"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
}

// TelegramConfig holds Telegram Bot API parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEPSEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nepse-collector")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("market.timezone", market.ZoneName)

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("api.probe_timeout", "10s")
	v.SetDefault("api.user_agent", "NEPSE-Cloud-Collector/1.0")

	v.SetDefault("output.data_dir", "data")
	v.SetDefault("output.logs_dir", "logs")
	v.SetDefault("output.summary_file", "collector_runs.jsonl")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_closed", false)
	v.SetDefault("alerting.request_timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be configured")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be greater than zero")
	}
	if c.Output.DataDir == "" || c.Output.LogsDir == "" {
		return fmt.Errorf("output.data_dir and output.logs_dir must be configured")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	if _, err := c.SessionWindows(); err != nil {
		return err
	}
	return nil
}

// SessionWindows converts configured windows into calendar windows, falling
// back to the canonical NEPSE sessions when none are configured.
func (c *Config) SessionWindows() ([]market.Window, error) {
	if len(c.Market.Windows) == 0 {
		return market.DefaultWindows(), nil
	}

	windows := make([]market.Window, 0, len(c.Market.Windows))
	for _, wc := range c.Market.Windows {
		open, err := market.ParseClock(wc.Open)
		if err != nil {
			return nil, fmt.Errorf("market.windows[%s].open: %w", wc.Name, err)
		}
		closeAt, err := market.ParseClock(wc.Close)
		if err != nil {
			return nil, fmt.Errorf("market.windows[%s].close: %w", wc.Name, err)
		}
		days, err := parseWeekdays(wc.Days)
		if err != nil {
			return nil, fmt.Errorf("market.windows[%s].days: %w", wc.Name, err)
		}
		windows = append(windows, market.Window{
			Name:  wc.Name,
			Days:  days,
			Open:  open,
			Close: closeAt,
		})
	}
	return windows, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one weekday required")
	}
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, day)
	}
	return days, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
