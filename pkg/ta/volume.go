package ta

import (
	"sync"

	"footprint-engine/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

const (
	volumeMAPeriod = 20
	atrPeriod      = 14
	maxHistoryLen  = 100
)

// VolumeStats 一根已收盘 K 线对应的成交量统计
type VolumeStats struct {
	AverageVolume  float64 // 之前 volumeMAPeriod 根 K 线的平均成交量
	RelativeVolume float64 // 当前成交量 / AverageVolume
	ATR            float64
	Spike          bool
}

// barHistory 存储计算指标所需的历史数据
type barHistory struct {
	lastOpen int64
	Close    []float64
	High     []float64
	Low      []float64
	Volume   []float64
}

// VolumeAnalyzer 按 交易对+周期 维护 K 线历史并计算成交量指标
type VolumeAnalyzer struct {
	mu             sync.RWMutex
	HistoryMap     map[string]*barHistory // Key: "BTCUSDT@1m"
	MinHistoryLen  int                    // 计算指标所需的最小历史长度
	SpikeThreshold float64                // RelativeVolume 达到该倍数视为放量
	Logger         *zap.SugaredLogger
}

// NewVolumeAnalyzer 初始化成交量分析器
func NewVolumeAnalyzer(logger *zap.SugaredLogger, spikeThreshold float64) *VolumeAnalyzer {
	if spikeThreshold <= 0 {
		spikeThreshold = 1.5
	}
	return &VolumeAnalyzer{
		HistoryMap:     make(map[string]*barHistory),
		MinHistoryLen:  volumeMAPeriod + 1, // 当前 K 线之外还需要完整的均线窗口
		SpikeThreshold: spikeThreshold,
		Logger:         logger,
	}
}

func historyKey(symbol, interval string) string {
	return symbol + "@" + interval
}

// Update 追加一根已收盘的 K 线并计算指标。
// 历史不足或重复的 K 线返回 ok=false。
func (va *VolumeAnalyzer) Update(kline model.KLine) (VolumeStats, bool) {
	va.mu.Lock()
	defer va.mu.Unlock()

	key := historyKey(kline.Symbol, kline.Interval)
	h, ok := va.HistoryMap[key]
	if !ok {
		h = &barHistory{
			Close:  make([]float64, 0, maxHistoryLen),
			High:   make([]float64, 0, maxHistoryLen),
			Low:    make([]float64, 0, maxHistoryLen),
			Volume: make([]float64, 0, maxHistoryLen),
		}
		va.HistoryMap[key] = h
		va.Logger.Debugw("Initialized volume history", "key", key)
	} else if kline.OpenTime <= h.lastOpen {
		// 重复推送或乱序的 K 线
		return VolumeStats{}, false
	}
	h.lastOpen = kline.OpenTime

	// FIFO 保持固定长度
	h.Close = appendBounded(h.Close, kline.Close.InexactFloat64())
	h.High = appendBounded(h.High, kline.High.InexactFloat64())
	h.Low = appendBounded(h.Low, kline.Low.InexactFloat64())
	h.Volume = appendBounded(h.Volume, kline.Volume.InexactFloat64())

	if len(h.Close) < va.MinHistoryLen {
		va.Logger.Debugw("Not enough history for volume stats", "key", key, "len", len(h.Close))
		return VolumeStats{}, false
	}
	return va.calculate(h), true
}

func (va *VolumeAnalyzer) calculate(h *barHistory) VolumeStats {
	n := len(h.Volume)
	current := h.Volume[n-1]

	// 均量只取当前 K 线之前的历史
	ma := talib.Sma(h.Volume[:n-1], volumeMAPeriod)
	avg := ma[len(ma)-1]

	atr := talib.Atr(h.High, h.Low, h.Close, atrPeriod)

	stats := VolumeStats{
		AverageVolume: avg,
		ATR:           atr[len(atr)-1],
	}
	if avg > 0 {
		stats.RelativeVolume = current / avg
		stats.Spike = stats.RelativeVolume >= va.SpikeThreshold
	}
	return stats
}

// HistoryLen 查询某个 交易对+周期 已积累的 K 线数量
func (va *VolumeAnalyzer) HistoryLen(symbol, interval string) int {
	va.mu.RLock()
	defer va.mu.RUnlock()
	h, ok := va.HistoryMap[historyKey(symbol, interval)]
	if !ok {
		return 0
	}
	return len(h.Close)
}

func appendBounded(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > maxHistoryLen {
		s = s[len(s)-maxHistoryLen:]
	}
	return s
}
