package data

import (
	"context"
	"slices"
	"sync"

	"footprint-engine/internal/model"
	"footprint-engine/internal/output"
	"footprint-engine/internal/service"
	"footprint-engine/pkg/profile"
	"footprint-engine/pkg/ta"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// barProfileWindow 计算 K 线成交量分布时保留的已收盘 K 线数量
const barProfileWindow = 30

// BarProcessor 处理已收盘的 K 线: 生成 K 线级 Footprint、窗口成交量分布并附加成交量统计
type BarProcessor struct {
	mu        sync.Mutex
	analyzer  *ta.VolumeAnalyzer
	params    profile.Params
	publisher output.Publisher
	windows   map[string][]model.KLine // Key: "BTCUSDT@1m"
}

func NewBarProcessor(analyzer *ta.VolumeAnalyzer, params profile.Params, publisher output.Publisher) *BarProcessor {
	return &BarProcessor{
		analyzer:  analyzer,
		params:    params,
		publisher: publisher,
		windows:   make(map[string][]model.KLine),
	}
}

// Process 分析并发布一根 K 线
func (bp *BarProcessor) Process(ctx context.Context, k model.KLine) (model.BarAnalysis, error) {
	analysis := model.BarAnalysis{
		Kline:     k,
		Footprint: profile.FootprintFromBar(k),
	}

	window := bp.remember(k)
	bucket, err := profile.ProfileFromBars(k.Symbol, window, bp.params.PriceIncrement)
	if err != nil {
		return analysis, err
	}
	analysis.Profile = profile.Analyze(bucket, bp.params)
	analysis.HighProfile, analysis.LowProfile = barRange(window)

	if stats, ok := bp.analyzer.Update(k); ok {
		analysis.Ready = true
		analysis.AverageVolume = stats.AverageVolume
		analysis.RelativeVolume = stats.RelativeVolume
		analysis.ATR = stats.ATR
		analysis.VolumeSpike = stats.Spike
	} else {
		service.Logger.Debug("Volume stats not ready",
			zap.String("Symbol", k.Symbol),
			zap.String("Interval", k.Interval),
			zap.Int("History", bp.analyzer.HistoryLen(k.Symbol, k.Interval)),
			zap.Int("Required", bp.analyzer.MinHistoryLen))
	}
	barsProcessed.WithLabelValues(k.Symbol, k.Interval).Inc()

	if err := bp.publisher.PublishBar(ctx, analysis); err != nil {
		publishErrors.Inc()
		return analysis, err
	}
	return analysis, nil
}

// remember 把 K 线加入 交易对+周期 的窗口并返回窗口副本。
// 重复或更早的 K 线不进入窗口。
func (bp *BarProcessor) remember(k model.KLine) []model.KLine {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := k.Symbol + "@" + k.Interval
	window := bp.windows[key]
	if n := len(window); n == 0 || k.OpenTime > window[n-1].OpenTime {
		window = append(window, k)
		if len(window) > barProfileWindow {
			window = slices.Clone(window[len(window)-barProfileWindow:])
		}
		bp.windows[key] = window
	}
	return slices.Clone(window)
}

// barRange 窗口内的最高价和最低价
func barRange(window []model.KLine) (high, low decimal.Decimal) {
	for i, k := range window {
		if i == 0 || k.High.GreaterThan(high) {
			high = k.High
		}
		if i == 0 || k.Low.LessThan(low) {
			low = k.Low
		}
	}
	return high, low
}

// Run 消费原始 K 线通道直到关闭或 ctx 结束，格式错误的 K 线被丢弃
func (bp *BarProcessor) Run(ctx context.Context, rawChan <-chan model.RawKline) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			k, err := model.NormalizeKline(raw)
			if err != nil {
				service.Logger.Warn("Dropping malformed kline",
					zap.String("Symbol", raw.Symbol), zap.Error(err))
				continue
			}
			if _, err := bp.Process(ctx, k); err != nil {
				service.Logger.Error("Failed to publish bar analysis",
					zap.String("Symbol", k.Symbol), zap.Error(err))
			}
		}
	}
}
