package ta

import (
	"testing"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bar(i int64, volume float64) model.KLine {
	return model.KLine{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		OpenTime: i * 60_000,
		Open:     decimal.NewFromInt(100),
		High:     decimal.NewFromInt(102),
		Low:      decimal.NewFromInt(98),
		Close:    decimal.NewFromInt(100),
		Volume:   decimal.NewFromFloat(volume),
	}
}

func TestVolumeAnalyzer_NotReadyUntilHistoryFull(t *testing.T) {
	va := NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5)

	for i := int64(0); i < volumeMAPeriod; i++ {
		_, ok := va.Update(bar(i, 10))
		assert.False(t, ok, "bar %d", i)
	}
	assert.Equal(t, volumeMAPeriod, va.HistoryLen("BTCUSDT", "1m"))

	stats, ok := va.Update(bar(volumeMAPeriod, 10))
	require.True(t, ok)
	assert.InDelta(t, 10.0, stats.AverageVolume, 1e-9)
	assert.InDelta(t, 1.0, stats.RelativeVolume, 1e-9)
	assert.InDelta(t, 4.0, stats.ATR, 1e-9)
	assert.False(t, stats.Spike)
}

func TestVolumeAnalyzer_Spike(t *testing.T) {
	va := NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5)
	for i := int64(0); i < volumeMAPeriod; i++ {
		va.Update(bar(i, 10))
	}

	stats, ok := va.Update(bar(volumeMAPeriod, 30))
	require.True(t, ok)
	assert.InDelta(t, 10.0, stats.AverageVolume, 1e-9)
	assert.InDelta(t, 3.0, stats.RelativeVolume, 1e-9)
	assert.True(t, stats.Spike)
}

func TestVolumeAnalyzer_IgnoresDuplicateBars(t *testing.T) {
	va := NewVolumeAnalyzer(zap.NewNop().Sugar(), 0)
	va.Update(bar(1, 10))
	_, ok := va.Update(bar(1, 10))
	assert.False(t, ok)
	_, ok = va.Update(bar(0, 10))
	assert.False(t, ok)
	assert.Equal(t, 1, va.HistoryLen("BTCUSDT", "1m"))
}

func TestVolumeAnalyzer_SeparateHistoryPerSymbolAndInterval(t *testing.T) {
	va := NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5)
	k := bar(0, 10)
	va.Update(k)
	k.Interval = "5m"
	va.Update(k)
	k.Symbol = "ETHUSDT"
	va.Update(k)

	assert.Equal(t, 1, va.HistoryLen("BTCUSDT", "1m"))
	assert.Equal(t, 1, va.HistoryLen("BTCUSDT", "5m"))
	assert.Equal(t, 1, va.HistoryLen("ETHUSDT", "5m"))
	assert.Equal(t, 0, va.HistoryLen("ETHUSDT", "1m"))
}

func TestVolumeAnalyzer_HistoryBounded(t *testing.T) {
	va := NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5)
	for i := int64(0); i < maxHistoryLen+20; i++ {
		va.Update(bar(i, 10))
	}
	assert.Equal(t, maxHistoryLen, va.HistoryLen("BTCUSDT", "1m"))
}
