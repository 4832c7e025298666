package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t, `
Logging:
  Level: debug
Engine:
  BucketWidth: 5m
  PriceIncrement: 5.0
  ValueAreaFraction: 0.68
  NodeMethod: ranked
Feed:
  Mode: replay
  Symbols: [BTCUSDT, ETHUSDT]
  ReplayFiles: [data/BTCUSDT-aggTrades-2023-08-16.csv]
Output:
  Path: out/reports.jsonl
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Minute, cfg.Engine.BucketWidth)
	assert.Equal(t, 5.0, cfg.Engine.PriceIncrement)
	assert.Equal(t, 0.68, cfg.Engine.ValueAreaFraction)
	assert.Equal(t, "ranked", cfg.Engine.NodeMethod)
	// 默认值
	assert.Equal(t, "greedy", cfg.Engine.ValueAreaMethod)
	assert.Equal(t, 1.5, cfg.Engine.HVNMultiplier)
	assert.Equal(t, 30*time.Minute, cfg.Engine.TPOPeriod)
	assert.Equal(t, 24*time.Hour, cfg.Engine.SessionWidth)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Feed.Symbols)
	assert.Equal(t, "out/reports.jsonl", cfg.Output.Path)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := writeConfig(t, `
Engine:
  ValueAreaFraction: 1.5
Feed:
  Symbols: [BTCUSDT]
`)
	_, err := LoadConfig(dir)
	assert.Error(t, err)

	dir = writeConfig(t, `
Engine:
  HVNMultiplier: 0.4
Feed:
  Symbols: [BTCUSDT]
`)
	_, err = LoadConfig(dir)
	assert.Error(t, err)

	dir = writeConfig(t, `
Feed:
  Mode: replay
  Symbols: [BTCUSDT]
`)
	_, err = LoadConfig(dir)
	assert.Error(t, err, "replay mode requires files")

	dir = writeConfig(t, `
Engine:
  TPOPeriod: 30m
  SessionWidth: 45m
Feed:
  Symbols: [BTCUSDT]
`)
	_, err = LoadConfig(dir)
	assert.ErrorContains(t, err, "not a multiple")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestIntervalRoundTrip(t *testing.T) {
	for _, s := range []string{"1m", "30m", "4h", "1d", "15s"} {
		d, err := ParseIntervalDuration(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, FormatInterval(d))
	}

	_, err := ParseIntervalDuration("5x")
	assert.Error(t, err)
	_, err = ParseIntervalDuration("m")
	assert.Error(t, err)
}
