package config

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/elcorderodedios/assemblyline/internal/asynclog"
)

func TestLoadAppliesEveryDefaultFromSpec(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(nil)))

	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, 20, cfg.BufferCapacity)
	require.Equal(t, 10.0, cfg.Intake.ProductionRate)
	require.Equal(t, 0.08, cfg.Quality.ReworkRate)
	require.Equal(t, 1000, cfg.Aggregator.UpdateIntervalMs)
	require.Equal(t, 300, cfg.Aggregator.MaxHistorySize)
	require.Equal(t, "Info", cfg.Logger.MinLevel)
	require.Equal(t, 5000, cfg.Worker.HealthCheckIntervalMs)
	require.Nil(t, cfg.RngSeed)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	yaml := []byte(`
bufferCapacity: 50
rngSeed: 42
intake:
  productionRate: 25
quality:
  reworkRate: 0.2
logger:
  minLevel: Debug
`)
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, 50, cfg.BufferCapacity)
	require.NotNil(t, cfg.RngSeed)
	require.Equal(t, int64(42), *cfg.RngSeed)
	require.Equal(t, 25.0, cfg.Intake.ProductionRate)
	require.Equal(t, 0.2, cfg.Quality.ReworkRate)
	require.Equal(t, asynclog.Debug, cfg.LogLevel())
}

func TestPipelineConfigConversionMatchesOptions(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(nil)))

	cfg, err := Load(v)
	require.NoError(t, err)

	pc := cfg.PipelineConfig()
	require.Equal(t, 20, pc.BufferCapacity)
	require.Equal(t, 0.02, pc.Assembler.FailureRate)
	require.Equal(t, 0.08, pc.QualityReworkRate)
}

func TestLogLevelDefaultsToInfoForUnrecognizedValue(t *testing.T) {
	cfg := &Config{Logger: LoggerOptions{MinLevel: "nonsense"}}
	require.Equal(t, asynclog.Info, cfg.LogLevel())
}
