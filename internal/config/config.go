package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"drawdown-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Watchlist    []WatchlistEntry   `mapstructure:"watchlist"`
	Yahoo        YahooConfig        `mapstructure:"yahoo"`
	Ethereum     EthereumConfig     `mapstructure:"ethereum"`
	Notification NotificationConfig `mapstructure:"notification"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	History      HistoryConfig      `mapstructure:"history"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs monitoring cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// WatchlistEntry describes one monitored asset.
type WatchlistEntry struct {
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
	Class  string `mapstructure:"class"`
}

// YahooConfig covers the Yahoo Finance chart endpoint.
type YahooConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers optional on-chain price feeds for crypto symbols.
type EthereumConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// NotificationConfig 描述 Expo 推送参数。
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PushURL        string        `mapstructure:"push_url"`
	Sound          string        `mapstructure:"sound"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines the drawdown threshold and repeat behaviour.
type AlertingConfig struct {
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// HistoryConfig toggles the per-pass observation audit trail.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ETFGUARDIAN")
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
	v.SetDefault("app.name", "etfguardian")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x65746647))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("watchlist", []map[string]any{
		{"symbol": "VOO", "name": "Vanguard S&P 500", "class": "EQUITY_ETF"},
		{"symbol": "BTC", "name": "Bitcoin", "class": "CRYPTO"},
		{"symbol": "ETH", "name": "Ethereum", "class": "CRYPTO"},
		{"symbol": "BND", "name": "Vanguard Bond ETF", "class": "EQUITY_ETF"},
		{"symbol": "SOL", "name": "Solana", "class": "CRYPTO"},
	})

	v.SetDefault("yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yahoo.request_timeout", "10s")
	v.SetDefault("yahoo.user_agent", "etfguardian/1.0")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.push_url", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("notification.sound", "default")
	v.SetDefault("notification.request_timeout", "10s")

	v.SetDefault("alerting.threshold_pct", 15.0)
	v.SetDefault("alerting.cooldown", "0s")

	v.SetDefault("history.enabled", true)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.ThresholdPct <= 0 {
		return fmt.Errorf("alerting.threshold_pct must be greater than zero")
	}
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist 不能为空")
	}
	seen := make(map[string]struct{}, len(c.Watchlist))
	for _, entry := range c.Watchlist {
		if entry.Symbol == "" {
			return fmt.Errorf("watchlist entries require a symbol")
		}
		if _, dup := seen[entry.Symbol]; dup {
			return fmt.Errorf("watchlist symbol %s duplicated", entry.Symbol)
		}
		seen[entry.Symbol] = struct{}{}
		switch entry.Class {
		case "EQUITY_ETF", "CRYPTO":
		default:
			return fmt.Errorf("watchlist symbol %s has unknown class %q", entry.Symbol, entry.Class)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
