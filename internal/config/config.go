// Package config loads the service configuration from file and environment
// via viper. Every option has a default, so the service starts with no
// config file at all; AIRSENSE_-prefixed environment variables override
// both defaults and file values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/airsense/forecast/internal/pipeline"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is a limiter format string, e.g. "100-M" for 100
	// requests per minute per client IP.
	RateLimit string `mapstructure:"rate_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds the telemetry store settings.
type DatabaseConfig struct {
	// Path is the sqlite database file; ":memory:" works for tests.
	Path string `mapstructure:"path"`
}

// PipelineConfig is the file/env shape of the feature pipeline options.
type PipelineConfig struct {
	Period            time.Duration     `mapstructure:"period"`
	Channels          []string          `mapstructure:"channels"`
	TargetChannels    []string          `mapstructure:"target_channels"`
	Horizon           int               `mapstructure:"horizon"`
	Windows           []int             `mapstructure:"windows"`
	DenseLagCap       int               `mapstructure:"dense_lag_cap"`
	Anchors           []int             `mapstructure:"anchors"`
	MaxGapFillPeriods int               `mapstructure:"max_gap_fill_periods"`
	TinyOverride      bool              `mapstructure:"tiny_override"`
	Aggregation       map[string]string `mapstructure:"aggregation"`
	Percentile        float64           `mapstructure:"percentile"`
	NeutralFill       float64           `mapstructure:"neutral_fill"`
	MinHistory        int               `mapstructure:"min_history"`
	MinRows           int               `mapstructure:"min_rows"`
	LookbackDays      int               `mapstructure:"lookback_days"`
}

// ModelConfig holds predictor and bundle settings.
type ModelConfig struct {
	Lambda       float64 `mapstructure:"lambda"`
	HoldoutShare float64 `mapstructure:"holdout_share"`
	BundlePath   string  `mapstructure:"bundle_path"`
}

// Config is the root configuration.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Model    ModelConfig    `mapstructure:"model"`
}

// Load reads configuration from airsense.yaml (searched in ., ./configs and
// /etc/airsense) plus the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("airsense")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/airsense")

	v.SetEnvPrefix("AIRSENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", "100-M")

	v.SetDefault("database.path", "data/sensor.db")

	v.SetDefault("pipeline.period", time.Minute)
	v.SetDefault("pipeline.channels", []string{"temp_c", "rh_pct", "tvoc_ppb", "eco2_ppm", "dust_ugm3"})
	v.SetDefault("pipeline.target_channels", []string{"temp_c", "tvoc_ppb"})
	v.SetDefault("pipeline.horizon", 60)
	v.SetDefault("pipeline.windows", []int{3, 6, 12, 24})
	v.SetDefault("pipeline.dense_lag_cap", 30)
	v.SetDefault("pipeline.anchors", []int{60, 180, 360, 720, 1440, 10080})
	v.SetDefault("pipeline.max_gap_fill_periods", 60)
	v.SetDefault("pipeline.tiny_override", false)
	v.SetDefault("pipeline.percentile", 0.95)
	v.SetDefault("pipeline.neutral_fill", 0.0)
	v.SetDefault("pipeline.min_history", 2)
	v.SetDefault("pipeline.min_rows", 3)
	v.SetDefault("pipeline.lookback_days", 365)

	v.SetDefault("model.lambda", 1e-3)
	v.SetDefault("model.holdout_share", 0.2)
	v.SetDefault("model.bundle_path", "data/bundle.json")
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Pipeline.Period <= 0 {
		return fmt.Errorf("pipeline.period must be positive, got %s", c.Pipeline.Period)
	}
	if len(c.Pipeline.Channels) == 0 {
		return fmt.Errorf("pipeline.channels must not be empty")
	}
	if len(c.Pipeline.TargetChannels) == 0 {
		return fmt.Errorf("pipeline.target_channels must not be empty")
	}
	channels := make(map[string]bool, len(c.Pipeline.Channels))
	for _, ch := range c.Pipeline.Channels {
		channels[ch] = true
	}
	for _, ch := range c.Pipeline.TargetChannels {
		if !channels[ch] {
			return fmt.Errorf("target channel %q is not in pipeline.channels", ch)
		}
	}
	for ch, agg := range c.Pipeline.Aggregation {
		switch pipeline.Aggregation(agg) {
		case pipeline.AggMean, pipeline.AggMax, pipeline.AggPercentile:
		default:
			return fmt.Errorf("unknown aggregation %q for channel %q", agg, ch)
		}
	}
	return nil
}

func lookbackRows(days int, period time.Duration) int {
	if days <= 0 || period <= 0 {
		return 0
	}
	return int((time.Duration(days) * 24 * time.Hour) / period)
}

// PipelineConfig converts the file shape into the pipeline's own config.
func (c *Config) PipelineConfig() pipeline.Config {
	agg := make(map[string]pipeline.Aggregation, len(c.Pipeline.Aggregation))
	for ch, a := range c.Pipeline.Aggregation {
		agg[ch] = pipeline.Aggregation(a)
	}
	return pipeline.Config{
		Period:         c.Pipeline.Period,
		Channels:       c.Pipeline.Channels,
		TargetChannels: c.Pipeline.TargetChannels,
		Horizon:        c.Pipeline.Horizon,
		Windows:        c.Pipeline.Windows,
		DenseLagCap:    c.Pipeline.DenseLagCap,
		Anchors:        c.Pipeline.Anchors,
		MaxGapFill:     c.Pipeline.MaxGapFillPeriods,
		TinyOverride:   c.Pipeline.TinyOverride,
		Aggregation:    agg,
		Percentile:     c.Pipeline.Percentile,
		NeutralFill:    c.Pipeline.NeutralFill,
		MinHistory:     c.Pipeline.MinHistory,
		MinRows:        c.Pipeline.MinRows,
		LookbackRows:   lookbackRows(c.Pipeline.LookbackDays, c.Pipeline.Period),
	}
}
