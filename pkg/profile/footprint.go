package profile

import (
	"fmt"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// FootprintBuilder 按时间顺序累计一个窗口内的买卖压力
type FootprintBuilder struct {
	symbol  string
	start   int64
	end     int64
	open    decimal.NullDecimal
	close   decimal.NullDecimal
	buy     decimal.Decimal
	sell    decimal.Decimal
	lastTs  int64
	started bool
}

// NewFootprintBuilder 创建窗口 [start, end) 的 Footprint 构建器
func NewFootprintBuilder(symbol string, start, end int64) *FootprintBuilder {
	return &FootprintBuilder{symbol: symbol, start: start, end: end, lastTs: start}
}

// Add 第一笔成交为开盘价，最后一笔为收盘价，因此要求严格按时间顺序调用
func (b *FootprintBuilder) Add(ev model.TradeEvent) error {
	if ev.Timestamp < b.start {
		return fmt.Errorf("%w: ts=%d start=%d", ErrOutsideWindow, ev.Timestamp, b.start)
	}
	if ev.Timestamp < b.lastTs {
		return &model.SequencingError{
			Symbol:        b.symbol,
			Timestamp:     ev.Timestamp,
			BucketStart:   b.start,
			LastTimestamp: b.lastTs,
		}
	}
	if ev.Timestamp >= b.end {
		return fmt.Errorf("%w: ts=%d end=%d", ErrOutsideWindow, ev.Timestamp, b.end)
	}

	if !b.started {
		b.open = decimal.NewNullDecimal(ev.Price)
		b.started = true
	}
	b.close = decimal.NewNullDecimal(ev.Price)

	if ev.IsTakerBuy() {
		b.buy = b.buy.Add(ev.Quantity)
	} else {
		b.sell = b.sell.Add(ev.Quantity)
	}
	b.lastTs = ev.Timestamp
	return nil
}

// Candle 当前累计结果；没有成交时 Open/Close 为 null
func (b *FootprintBuilder) Candle() model.FootprintCandle {
	return model.FootprintCandle{
		Symbol:        b.symbol,
		IntervalStart: b.start,
		IntervalEnd:   b.end,
		Open:          b.open,
		Close:         b.close,
		BuyPressure:   b.buy,
		SellPressure:  b.sell,
		Delta:         b.buy.Sub(b.sell),
		Volume:        b.buy.Add(b.sell),
	}
}

// BuildFootprint 由一个窗口的有序成交生成 Footprint 蜡烛
func BuildFootprint(symbol string, start, end int64, events []model.TradeEvent) (model.FootprintCandle, error) {
	b := NewFootprintBuilder(symbol, start, end)
	for _, ev := range events {
		if err := b.Add(ev); err != nil {
			return model.FootprintCandle{}, err
		}
	}
	return b.Candle(), nil
}

// BuildFootprints 按固定宽度切分并逐窗口生成蜡烛 (只包含有成交的窗口)
func BuildFootprints(symbol string, events []model.TradeEvent, width int64) ([]model.FootprintCandle, error) {
	var candles []model.FootprintCandle
	for group, err := range Bucketize(events, width) {
		if err != nil {
			return candles, err
		}
		candle, err := BuildFootprint(symbol, group.Start, group.End, group.Events)
		if err != nil {
			return candles, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
