package profile

import (
	"fmt"
	"slices"
	"strings"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

const tpoLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TPOLetterFor 第 index 个子周期的字母，26 个字母循环使用
func TPOLetterFor(index int64) string {
	n := int64(len(tpoLetters))
	i := index % n
	if i < 0 {
		i += n
	}
	return tpoLetters[i : i+1]
}

// tpoRow 一个价格档位在 session 内出现过的子周期序号 (升序、去重)
type tpoRow struct {
	low     decimal.Decimal
	high    decimal.Decimal
	periods []int64
}

// TPOBuilder 按时间顺序累计一个 session 的 TPO 字母图
type TPOBuilder struct {
	symbol    string
	session   model.Interval
	period    int64
	increment decimal.Decimal
	fraction  decimal.Decimal

	rows   []tpoRow // 按价格升序
	buy    decimal.Decimal
	sell   decimal.Decimal
	lastTs int64
}

// NewTPOBuilder session 为 [start, end)，period 为子周期宽度 (毫秒)
func NewTPOBuilder(symbol string, session model.Interval, period int64, increment, fraction decimal.Decimal) *TPOBuilder {
	return &TPOBuilder{
		symbol:    symbol,
		session:   session,
		period:    period,
		increment: increment,
		fraction:  fraction,
		lastTs:    session.Start,
	}
}

// Add 把成交价格标记上所在子周期的字母
func (t *TPOBuilder) Add(ev model.TradeEvent) error {
	if ev.Timestamp < t.session.Start {
		return fmt.Errorf("%w: ts=%d session start=%d", ErrOutsideWindow, ev.Timestamp, t.session.Start)
	}
	if ev.Timestamp < t.lastTs {
		return &model.SequencingError{
			Symbol:        t.symbol,
			Timestamp:     ev.Timestamp,
			BucketStart:   t.session.Start,
			LastTimestamp: t.lastTs,
		}
	}
	if ev.Timestamp >= t.session.End {
		return fmt.Errorf("%w: ts=%d session end=%d", ErrOutsideWindow, ev.Timestamp, t.session.End)
	}
	t.lastTs = ev.Timestamp

	periodIdx := (BucketStart(ev.Timestamp, t.period) - BucketStart(t.session.Start, t.period)) / t.period
	key := BinKey(ev.Price, t.increment)
	idx, found := slices.BinarySearchFunc(t.rows, key, func(r tpoRow, k decimal.Decimal) int {
		return r.low.Cmp(k)
	})
	if !found {
		t.rows = slices.Insert(t.rows, idx, tpoRow{low: key, high: key.Add(t.increment)})
	}
	row := &t.rows[idx]
	if n := len(row.periods); n == 0 || row.periods[n-1] != periodIdx {
		row.periods = append(row.periods, periodIdx)
	}

	if ev.IsTakerBuy() {
		t.buy = t.buy.Add(ev.Quantity)
	} else {
		t.sell = t.sell.Add(ev.Quantity)
	}
	return nil
}

// Chart 生成 TPO 图及其 POC / 价值区域 / rotation factor
func (t *TPOBuilder) Chart() model.TPOChart {
	chart := model.TPOChart{
		Symbol:           t.symbol,
		Period:           t.session,
		LetterAssignment: []model.TPOLetter{},
		Levels:           make([]model.TPOLevel, 0, len(t.rows)),
		Delta:            t.buy.Sub(t.sell),
	}

	total := 0
	for _, row := range t.rows {
		var letters strings.Builder
		for _, p := range row.periods {
			letter := TPOLetterFor(p)
			letters.WriteString(letter)
			chart.LetterAssignment = append(chart.LetterAssignment, model.TPOLetter{
				PriceRangeLow:  row.low,
				PriceRangeHigh: row.high,
				Letter:         letter,
			})
		}
		chart.Levels = append(chart.Levels, model.TPOLevel{
			PriceRangeLow:  row.low,
			PriceRangeHigh: row.high,
			Letters:        letters.String(),
		})
		total += len(row.periods)
	}
	if total == 0 {
		return chart
	}

	ranked := slices.Clone(chart.Levels)
	slices.SortStableFunc(ranked, func(x, y model.TPOLevel) int {
		if c := y.Count() - x.Count(); c != 0 {
			return c
		}
		return x.PriceRangeLow.Cmp(y.PriceRangeLow)
	})

	chart.POC = decimal.NewNullDecimal(ranked[0].PriceRangeLow)

	// 价值区域: 按字母数降序累加，首次达到 fraction * 总字母数即停止
	threshold := decimal.NewFromInt(int64(total)).Mul(t.fraction)
	cumulative := 0
	selected := ranked[:0:0]
	for _, lvl := range ranked {
		cumulative += lvl.Count()
		selected = append(selected, lvl)
		if decimal.NewFromInt(int64(cumulative)).GreaterThanOrEqual(threshold) {
			break
		}
	}

	vaMin, vaMax := selected[0].PriceRangeLow, selected[0].PriceRangeLow
	rotation := 0
	for i := 1; i < len(selected); i++ {
		vaMin = decimal.Min(vaMin, selected[i].PriceRangeLow)
		vaMax = decimal.Max(vaMax, selected[i].PriceRangeLow)
		rotation += selected[i].Count() - selected[i-1].Count()
	}
	chart.ValueAreaMin = decimal.NewNullDecimal(vaMin)
	chart.ValueAreaMax = decimal.NewNullDecimal(vaMax)
	chart.RotationFactor = rotation
	return chart
}

// BuildTPOChart 批量模式: 一个 session 的有序成交生成 TPO 图
func BuildTPOChart(symbol string, session model.Interval, events []model.TradeEvent, p Params) (model.TPOChart, error) {
	t := NewTPOBuilder(symbol, session, p.TPOPeriod.Milliseconds(), p.PriceIncrement, p.ValueAreaFraction)
	for _, ev := range events {
		if err := t.Add(ev); err != nil {
			return model.TPOChart{}, err
		}
	}
	return t.Chart(), nil
}

// BuildSessionCharts 按 SessionWidth (默认按天) 切分 session，每个 session 一张 TPO 图
func BuildSessionCharts(symbol string, events []model.TradeEvent, p Params) ([]model.TPOChart, error) {
	var charts []model.TPOChart
	for group, err := range Bucketize(events, p.SessionWidth.Milliseconds()) {
		if err != nil {
			return charts, err
		}
		chart, err := BuildTPOChart(symbol, model.Interval{Start: group.Start, End: group.End}, group.Events, p)
		if err != nil {
			return charts, err
		}
		charts = append(charts, chart)
	}
	return charts, nil
}
