package profile

import (
	"errors"
	"fmt"
	"slices"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// ErrOutsideWindow 成交时间戳已经越过窗口终点，调用方应先关闭当前窗口
var ErrOutsideWindow = errors.New("trade outside bucket window")

// BinKey 计算价格所在档位的起点: floor(price / Δ) * Δ；Δ 为 0 时按精确价格分档
func BinKey(price, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return price
	}
	rem := price.Mod(increment)
	if rem.IsNegative() {
		rem = rem.Add(increment)
	}
	return price.Sub(rem)
}

// Aggregator 在一个打开的窗口内按价格档位累计成交量
type Aggregator struct {
	symbol    string
	start     int64
	end       int64
	increment decimal.Decimal

	bins   []model.PriceBin // 按 BinStart 升序
	total  decimal.Decimal
	lastTs int64
	count  int
}

// NewAggregator 创建窗口 [start, end) 的聚合器
func NewAggregator(symbol string, start, end int64, increment decimal.Decimal) *Aggregator {
	return &Aggregator{
		symbol:    symbol,
		start:     start,
		end:       end,
		increment: increment,
		lastTs:    start,
	}
}

// Add 把一笔成交计入对应档位，要求时间戳非递减且位于窗口内
func (a *Aggregator) Add(ev model.TradeEvent) error {
	if ev.Timestamp < a.start {
		return fmt.Errorf("%w: ts=%d start=%d", ErrOutsideWindow, ev.Timestamp, a.start)
	}
	if ev.Timestamp < a.lastTs {
		return &model.SequencingError{
			Symbol:        a.symbol,
			Timestamp:     ev.Timestamp,
			BucketStart:   a.start,
			LastTimestamp: a.lastTs,
		}
	}
	if ev.Timestamp >= a.end {
		return fmt.Errorf("%w: ts=%d end=%d", ErrOutsideWindow, ev.Timestamp, a.end)
	}

	key := BinKey(ev.Price, a.increment)
	idx, found := slices.BinarySearchFunc(a.bins, key, compareBinStart)
	if !found {
		a.bins = slices.Insert(a.bins, idx, model.PriceBin{
			BinStart: key,
			BinEnd:   key.Add(a.increment),
		})
	}

	bin := &a.bins[idx]
	bin.Volume = bin.Volume.Add(ev.Quantity)
	if ev.IsTakerBuy() {
		bin.BuyVolume = bin.BuyVolume.Add(ev.Quantity)
	} else {
		bin.SellVolume = bin.SellVolume.Add(ev.Quantity)
	}

	a.total = a.total.Add(ev.Quantity)
	a.lastTs = ev.Timestamp
	a.count++
	return nil
}

// Count 已计入的成交笔数
func (a *Aggregator) Count() int {
	return a.count
}

// Bucket 返回当前窗口的快照 (副本，后续 Add 不影响已返回的值)
func (a *Aggregator) Bucket() model.TimeBucket {
	bins := make([]model.PriceBin, len(a.bins))
	copy(bins, a.bins)
	return model.TimeBucket{
		Symbol:      a.symbol,
		Start:       a.start,
		End:         a.end,
		Bins:        bins,
		TotalVolume: a.total,
	}
}

// AggregateGroup 批量模式: 把一个 BucketGroup 聚合成 TimeBucket
func AggregateGroup(symbol string, group BucketGroup, increment decimal.Decimal) (model.TimeBucket, error) {
	agg := NewAggregator(symbol, group.Start, group.End, increment)
	for _, ev := range group.Events {
		if err := agg.Add(ev); err != nil {
			return model.TimeBucket{}, err
		}
	}
	return agg.Bucket(), nil
}

func compareBinStart(b model.PriceBin, key decimal.Decimal) int {
	return b.BinStart.Cmp(key)
}
