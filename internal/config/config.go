package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsefit/retention-cli/internal/resilience"
	"github.com/pulsefit/retention-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	// Retry covers single-recompute store calls and alert webhook posts.
	Retry resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	Log   LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RiskConfig configures the scoring engine.
type RiskConfig struct {
	WindowDays    int `yaml:"window_days" mapstructure:"window_days"`
	ValidityHours int `yaml:"validity_hours" mapstructure:"validity_hours"`
}

// BatchConfig configures box-wide batch scoring.
type BatchConfig struct {
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ExportConfig configures report exports.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background box health checker.
type MonitoringConfig struct {
	Boxes                  []string `yaml:"boxes" mapstructure:"boxes"`
	CheckIntervalSecs      int      `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CriticalShareThreshold float64  `yaml:"critical_share_threshold" mapstructure:"critical_share_threshold"`
	StaleThreshold         int      `yaml:"stale_threshold" mapstructure:"stale_threshold"`
	AvgChurnThreshold      float64  `yaml:"avg_churn_threshold" mapstructure:"avg_churn_threshold"`
	WebhookURL             string   `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RETENTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("risk.window_days", 30)
	v.SetDefault("risk.validity_hours", 24)
	v.SetDefault("batch.rate_per_sec", 0)
	v.SetDefault("export.dir", ".")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.critical_share_threshold", 0.25)
	v.SetDefault("monitoring.stale_threshold", 10)
	v.SetDefault("monitoring.avg_churn_threshold", 0.6)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects configurations the commands cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Risk.WindowDays < 0 {
		return eris.Errorf("config: risk.window_days must not be negative, got %d", c.Risk.WindowDays)
	}
	if c.Batch.RatePerSec < 0 {
		return eris.Errorf("config: batch.rate_per_sec must not be negative, got %v", c.Batch.RatePerSec)
	}
	if c.Retry.MaxAttempts < 0 {
		return eris.Errorf("config: retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
