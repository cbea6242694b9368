package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"gasfund/internal/feed"
	"gasfund/internal/logging"
	"gasfund/internal/oracle"
	"gasfund/internal/predict"
	"gasfund/internal/risk"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig       `mapstructure:"app"`
	Logging    logging.Config  `mapstructure:"logging"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Ethereum   EthereumConfig  `mapstructure:"ethereum"`
	Sources    []feed.Config   `mapstructure:"sources"`
	Oracle     oracle.Options  `mapstructure:"oracle"`
	Prediction predict.Options `mapstructure:"prediction"`
	Risk       risk.Params     `mapstructure:"risk"`
	Alerting   AlertingConfig  `mapstructure:"alerting"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Export     ExportConfig    `mapstructure:"export"`
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
}

// SchedulerConfig governs the watch loop cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// EthereumConfig covers on-chain data access. RPCURL doubles as the
// fallback endpoint for rpc sources configured without one.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	WalletAddress  string        `mapstructure:"wallet_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines fee alert thresholds and routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	ThresholdGwei uint64         `mapstructure:"threshold_gwei"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Channels      []string       `mapstructure:"channels"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GASFUND")
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

	if len(cfg.Sources) == 0 {
		// URL is resolved from ethereum.rpc_url at wiring time.
		cfg.Sources = []feed.Config{{Type: feed.TypeRPC}}
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
	v.SetDefault("app.name", "gasfund")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x67617346))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("oracle.cache_ttl", "15s")
	v.SetDefault("oracle.source_timeout", "5s")
	v.SetDefault("oracle.trend_days", 7)
	v.SetDefault("oracle.trend_threshold_gwei", 5.0)
	v.SetDefault("oracle.retry.max_attempts", 3)
	v.SetDefault("oracle.retry.initial_backoff", "200ms")
	v.SetDefault("oracle.retry.max_backoff", "2s")

	v.SetDefault("prediction.retention", "168h")
	v.SetDefault("prediction.ema_alpha", 0.2)
	v.SetDefault("prediction.spike_threshold", 0.5)
	v.SetDefault("prediction.volatility_threshold", 0.3)

	v.SetDefault("risk.max_leverage", 3.0)
	v.SetDefault("risk.min_margin_ratio", 0.15)
	v.SetDefault("risk.maintenance_margin_ratio", 0.075)
	v.SetDefault("risk.volatility_threshold", 0.02)
	v.SetDefault("risk.high_fee_threshold_gwei", 100)
	v.SetDefault("risk.default_gas_limit", 350000)
	v.SetDefault("risk.size_multipliers.low", 1.0)
	v.SetDefault("risk.size_multipliers.medium", 0.7)
	v.SetDefault("risk.size_multipliers.high", 0.4)
	v.SetDefault("risk.leverage_multipliers.low", 1.0)
	v.SetDefault("risk.leverage_multipliers.medium", 0.8)
	v.SetDefault("risk.leverage_multipliers.high", 0.6)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_gwei", 100)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.addr", "")

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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Prediction.EMAAlpha < 0 || c.Prediction.EMAAlpha > 1 {
		return fmt.Errorf("prediction.ema_alpha must stay within (0, 1]")
	}
	if c.Risk.MaxLeverage < 0 {
		return fmt.Errorf("risk.max_leverage cannot be negative")
	}
	for i, src := range c.Sources {
		if src.Type == "" {
			return fmt.Errorf("sources[%d].type is required", i)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
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
