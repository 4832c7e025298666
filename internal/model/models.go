package model

import (
	"github.com/shopspring/decimal"
)

// TradeEvent 代表一笔标准化后的逐笔成交 (创建后不可变)
type TradeEvent struct {
	Symbol       string          `json:"symbol"`       // 所属交易对，例如 "BTCUSDT"
	Price        decimal.Decimal `json:"price"`        // 成交价格
	Quantity     decimal.Decimal `json:"quantity"`     // 成交数量
	Timestamp    int64           `json:"timestamp"`    // 毫秒时间戳
	IsBuyerMaker bool            `json:"isBuyerMaker"` // 买方是否为 Maker (true 表示主动卖出)
}

// IsTakerBuy 主动买入 (Taker 买入) 的成交
func (t TradeEvent) IsTakerBuy() bool {
	return !t.IsBuyerMaker
}

// KLine 代表交易所推送或下载的 K 线 (Binance kline 字段)
type KLine struct {
	Symbol              string          `json:"symbol"`
	Interval            string          `json:"interval"` // 周期，例如 "1m", "30m", "1d"
	OpenTime            int64           `json:"openTime"`
	CloseTime           int64           `json:"closeTime"`
	Open                decimal.Decimal `json:"open"`
	High                decimal.Decimal `json:"high"`
	Low                 decimal.Decimal `json:"low"`
	Close               decimal.Decimal `json:"close"`
	Volume              decimal.Decimal `json:"volume"`
	QuoteAssetVolume    decimal.Decimal `json:"quoteAssetVolume"`
	Trades              int64           `json:"trades"`
	TakerBuyBaseVolume  decimal.Decimal `json:"takerBuyBaseVolume"`
	TakerBuyQuoteVolume decimal.Decimal `json:"takerBuyQuoteVolume"`
}

// PriceBin 单个价格档位的成交量累计
// 不变量: Volume == BuyVolume + SellVolume
type PriceBin struct {
	BinStart   decimal.Decimal `json:"binStart"`
	BinEnd     decimal.Decimal `json:"binEnd"` // BinEnd - BinStart == 价格步长 (按精确价格分档时为 0)
	Volume     decimal.Decimal `json:"volume"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
}

// TimeBucket 一个时间窗口 [Start, End) 内按价格排序的档位集合
type TimeBucket struct {
	Symbol      string          `json:"symbol"`
	Start       int64           `json:"start"`
	End         int64           `json:"end"`
	Bins        []PriceBin      `json:"bins"` // 按 BinStart 升序
	TotalVolume decimal.Decimal `json:"totalVolume"`
}

// IsEmpty 空窗口 (没有任何成交量)
func (b TimeBucket) IsEmpty() bool {
	return len(b.Bins) == 0 || b.TotalVolume.IsZero()
}

// Dominance 市场主导方
type Dominance string

const (
	DominanceBuyers  Dominance = "Buyers"
	DominanceSellers Dominance = "Sellers"
	DominanceNeutral Dominance = "Neutral"
)

func (d Dominance) String() string {
	return string(d)
}

// VolumeGap 相邻两个有成交的档位之间的价格空洞
type VolumeGap struct {
	Low  decimal.Decimal `json:"low"`
	High decimal.Decimal `json:"high"`
}

// VolumeProfileReport 由一个已关闭的 TimeBucket 推导出的成交量分布报告
// 空窗口时 POC/VAH/VAL 为 null，HVN/LVN 为空
type VolumeProfileReport struct {
	Bucket        TimeBucket          `json:"bucket"`
	POC           decimal.NullDecimal `json:"poc"`
	ValueAreaHigh decimal.NullDecimal `json:"valueAreaHigh"`
	ValueAreaLow  decimal.NullDecimal `json:"valueAreaLow"`
	HVN           []decimal.Decimal   `json:"hvn"`
	LVN           []decimal.Decimal   `json:"lvn"`
	Gaps          []VolumeGap         `json:"gaps"`
	Delta         decimal.Decimal     `json:"delta"`
	Dominance     Dominance           `json:"dominance"`
}

// FootprintCandle 一个时间窗口内的买卖压力蜡烛
// Delta = BuyPressure - SellPressure, Volume = BuyPressure + SellPressure
type FootprintCandle struct {
	Symbol        string              `json:"symbol"`
	IntervalStart int64               `json:"intervalStart"`
	IntervalEnd   int64               `json:"intervalEnd"`
	Open          decimal.NullDecimal `json:"open"`
	Close         decimal.NullDecimal `json:"close"`
	BuyPressure   decimal.Decimal     `json:"buyPressure"`
	SellPressure  decimal.Decimal     `json:"sellPressure"`
	Delta         decimal.Decimal     `json:"delta"`
	Volume        decimal.Decimal     `json:"volume"`
}

// Interval 半开时间区间 [Start, End)，毫秒
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// TPOLetter 一个价格区间在某个子周期内被标记的字母
type TPOLetter struct {
	PriceRangeLow  decimal.Decimal `json:"priceRangeLow"`
	PriceRangeHigh decimal.Decimal `json:"priceRangeHigh"`
	Letter         string          `json:"letter"`
}

// TPOLevel 单个价格区间在整个 session 内累计的字母
type TPOLevel struct {
	PriceRangeLow  decimal.Decimal `json:"priceRangeLow"`
	PriceRangeHigh decimal.Decimal `json:"priceRangeHigh"`
	Letters        string          `json:"letters"`
}

// Count 该价格区间累计的 TPO 数量
func (l TPOLevel) Count() int {
	return len(l.Letters)
}

// TPOChart Time-Price-Opportunity 图以及派生的统计值
type TPOChart struct {
	Symbol           string              `json:"symbol"`
	Period           Interval            `json:"period"`
	LetterAssignment []TPOLetter         `json:"letterAssignment"`
	Levels           []TPOLevel          `json:"levels"`
	POC              decimal.NullDecimal `json:"poc"`
	ValueAreaMin     decimal.NullDecimal `json:"valueAreaMin"`
	ValueAreaMax     decimal.NullDecimal `json:"valueAreaMax"`
	RotationFactor   int                 `json:"rotationFactor"`
	Delta            decimal.Decimal     `json:"delta"`
}

// WindowAnalysis 一个窗口关闭后发给下游的结果
type WindowAnalysis struct {
	Symbol    string              `json:"symbol"`
	Report    VolumeProfileReport `json:"report"`
	Footprint FootprintCandle     `json:"footprint"`
}

// BarAnalysis 一根已收盘 K 线的买卖压力、成交量统计，以及最近若干根 K 线的成交量分布
type BarAnalysis struct {
	Kline          KLine               `json:"kline"`
	Footprint      FootprintCandle     `json:"footprint"`
	Profile        VolumeProfileReport `json:"profile"`     // 按收盘价聚合的 K 线窗口分布
	HighProfile    decimal.Decimal     `json:"highProfile"` // 窗口内最高价
	LowProfile     decimal.Decimal     `json:"lowProfile"`  // 窗口内最低价
	Ready          bool                `json:"ready"`       // 历史长度足够时统计值才有效
	AverageVolume  float64             `json:"averageVolume"`
	RelativeVolume float64             `json:"relativeVolume"`
	ATR            float64             `json:"atr"`
	VolumeSpike    bool                `json:"volumeSpike"`
}
