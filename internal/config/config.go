// Package config loads the YAML configuration recognized by spec.md §6
// with github.com/spf13/viper, the teacher's own configuration library
// (the teacher's LoadConfig in this same file, before this rewrite).
// mapstructure tags match §6's option names exactly; every default named
// in §6 is set via viper.SetDefault so a caller gets a fully populated
// Config even from an empty or missing file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/elcorderodedios/assemblyline/internal/asynclog"
	"github.com/elcorderodedios/assemblyline/internal/metrics"
	"github.com/elcorderodedios/assemblyline/internal/pipeline"
)

// StationOptions mirrors one row of spec.md §4.2's per-station table.
type StationOptions struct {
	MinProcessingTimeMs int     `mapstructure:"minProcessingTime"`
	MaxProcessingTimeMs int     `mapstructure:"maxProcessingTime"`
	FailureRate         float64 `mapstructure:"failureRate"`
}

// IntakeOptions adds productionRate to the common station shape.
type IntakeOptions struct {
	StationOptions `mapstructure:",squash"`
	ProductionRate float64 `mapstructure:"productionRate"`
}

// QualityOptions adds reworkRate to the common station shape.
type QualityOptions struct {
	StationOptions `mapstructure:",squash"`
	ReworkRate     float64 `mapstructure:"reworkRate"`
}

// AggregatorOptions is spec.md §6's aggregator.* option group.
type AggregatorOptions struct {
	UpdateIntervalMs   int      `mapstructure:"updateIntervalMs"`
	MaxHistorySize     int      `mapstructure:"maxHistorySize"`
	ExpectedThroughput float64  `mapstructure:"expectedThroughput"`
	CustomRules        []string `mapstructure:"customRules"`
}

// LoggerOptions is spec.md §6's logger.* option group.
type LoggerOptions struct {
	MinLevel string `mapstructure:"minLevel"`
}

// WorkerOptions is spec.md §6's worker.* option group.
type WorkerOptions struct {
	HealthCheckIntervalMs int `mapstructure:"healthCheckIntervalMs"`
}

// Config is the root shape viper unmarshals the YAML document into,
// matching every recognized option name listed in spec.md §6 verbatim.
type Config struct {
	BufferCapacity int `mapstructure:"bufferCapacity"`
	MaxReworkCount int `mapstructure:"maxReworkCount"`

	Intake    IntakeOptions  `mapstructure:"intake"`
	Assembler StationOptions `mapstructure:"assembler"`
	Quality   QualityOptions `mapstructure:"quality"`
	Packaging StationOptions `mapstructure:"packaging"`
	Shipping  StationOptions `mapstructure:"shipping"`

	RngSeed *int64 `mapstructure:"rngSeed"`

	Aggregator AggregatorOptions `mapstructure:"aggregator"`
	Logger     LoggerOptions     `mapstructure:"logger"`
	Worker     WorkerOptions     `mapstructure:"worker"`
}

// Load reads config.yaml (or whatever name/paths have been configured on
// v beforehand) and unmarshals it into a Config, with every §6 default
// already applied via SetDefault before ReadInConfig runs. A missing
// config file is not an error: viper.ConfigFileNotFoundError falls back
// to defaults alone so the pipeline still runs unconfigured.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bufferCapacity", 20)

	v.SetDefault("intake.minProcessingTime", 50)
	v.SetDefault("intake.maxProcessingTime", 150)
	v.SetDefault("intake.failureRate", 0.0)
	v.SetDefault("intake.productionRate", 10)

	v.SetDefault("assembler.minProcessingTime", 200)
	v.SetDefault("assembler.maxProcessingTime", 400)
	v.SetDefault("assembler.failureRate", 0.02)

	v.SetDefault("quality.minProcessingTime", 150)
	v.SetDefault("quality.maxProcessingTime", 300)
	v.SetDefault("quality.failureRate", 0.03)
	v.SetDefault("quality.reworkRate", 0.08)

	v.SetDefault("packaging.minProcessingTime", 180)
	v.SetDefault("packaging.maxProcessingTime", 350)
	v.SetDefault("packaging.failureRate", 0.01)

	v.SetDefault("shipping.minProcessingTime", 100)
	v.SetDefault("shipping.maxProcessingTime", 200)
	v.SetDefault("shipping.failureRate", 0.005)

	v.SetDefault("aggregator.updateIntervalMs", 1000)
	v.SetDefault("aggregator.maxHistorySize", 300)
	v.SetDefault("aggregator.expectedThroughput", 10)

	v.SetDefault("logger.minLevel", "Info")

	v.SetDefault("worker.healthCheckIntervalMs", 5000)
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func stationConfig(o StationOptions) pipeline.StationConfig {
	return pipeline.StationConfig{
		MinProcessingTime: durationMs(o.MinProcessingTimeMs),
		MaxProcessingTime: durationMs(o.MaxProcessingTimeMs),
		FailureRate:       o.FailureRate,
	}
}

// PipelineConfig converts the loaded options into pipeline.Config, the
// plain-value shape the controller actually consumes (see
// internal/pipeline/config.go's note on why it stays decoupled from
// viper).
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		BufferCapacity:       c.BufferCapacity,
		Intake:               stationConfig(c.Intake.StationOptions),
		IntakeProductionRate: c.Intake.ProductionRate,
		Assembler:            stationConfig(c.Assembler),
		Quality:              stationConfig(c.Quality.StationOptions),
		QualityReworkRate:    c.Quality.ReworkRate,
		Packaging:            stationConfig(c.Packaging),
		Shipping:             stationConfig(c.Shipping),
		MaxReworkCount:       c.MaxReworkCount,
	}
}

// MetricsConfig converts the loaded options into metrics.Config.
func (c *Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		MaxHistorySize:     c.Aggregator.MaxHistorySize,
		ExpectedThroughput: c.Aggregator.ExpectedThroughput,
		CustomRules:        c.Aggregator.CustomRules,
	}
}

// AggregatorInterval is the aggregator's tick period.
func (c *Config) AggregatorInterval() time.Duration {
	return durationMs(c.Aggregator.UpdateIntervalMs)
}

// HealthCheckInterval is the WorkerRegistry sweep period.
func (c *Config) HealthCheckInterval() time.Duration {
	return durationMs(c.Worker.HealthCheckIntervalMs)
}

// LogLevel maps logger.minLevel's recognized names onto asynclog.Level,
// defaulting to Info for an unrecognized or empty value.
func (c *Config) LogLevel() asynclog.Level {
	switch c.Logger.MinLevel {
	case "Debug", "DEBUG", "debug":
		return asynclog.Debug
	case "Info", "INFO", "info", "":
		return asynclog.Info
	case "Warning", "WARNING", "warning", "Warn", "WARN", "warn":
		return asynclog.Warning
	case "Error", "ERROR", "error":
		return asynclog.Error
	case "Critical", "CRITICAL", "critical":
		return asynclog.Critical
	default:
		return asynclog.Info
	}
}
