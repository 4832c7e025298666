package profile

import (
	"slices"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// ValueArea POC 与价值区域的边界
type ValueArea struct {
	POC      model.PriceBin
	High     decimal.Decimal
	Low      decimal.Decimal
	Selected []model.PriceBin // 按成交量降序
}

// PointOfControl 成交量最大的档位，成交量相同时取价格最低的一档
func PointOfControl(bins []model.PriceBin) (model.PriceBin, bool) {
	var (
		poc   model.PriceBin
		found bool
	)
	for _, b := range bins {
		if !b.Volume.IsPositive() {
			continue
		}
		if !found || b.Volume.GreaterThan(poc.Volume) ||
			(b.Volume.Equal(poc.Volume) && b.BinStart.LessThan(poc.BinStart)) {
			poc = b
			found = true
		}
	}
	return poc, found
}

// rankByVolume 按成交量降序排序 (同量按价格升序)，返回副本
func rankByVolume(bins []model.PriceBin) []model.PriceBin {
	ranked := make([]model.PriceBin, 0, len(bins))
	for _, b := range bins {
		if b.Volume.IsPositive() {
			ranked = append(ranked, b)
		}
	}
	slices.SortStableFunc(ranked, func(x, y model.PriceBin) int {
		if c := y.Volume.Cmp(x.Volume); c != 0 {
			return c
		}
		return x.BinStart.Cmp(y.BinStart)
	})
	return ranked
}

// ResolveValueArea 计算 POC 和覆盖 fraction 比例成交量的价值区域。
// 空窗口返回 false，不视为错误。
func ResolveValueArea(bucket model.TimeBucket, fraction decimal.Decimal, method ValueAreaMethod) (ValueArea, bool) {
	if bucket.IsEmpty() {
		return ValueArea{}, false
	}

	ranked := rankByVolume(bucket.Bins)
	if len(ranked) == 0 {
		return ValueArea{}, false
	}

	threshold := bucket.TotalVolume.Mul(fraction)
	var selected []model.PriceBin
	switch method {
	case ValueAreaBounded:
		selected = boundedSelection(ranked, threshold)
	default:
		selected = greedySelection(ranked, threshold)
	}

	va := ValueArea{
		POC:      ranked[0],
		High:     selected[0].BinStart,
		Low:      selected[0].BinStart,
		Selected: selected,
	}
	for _, b := range selected[1:] {
		va.High = decimal.Max(va.High, b.BinStart)
		va.Low = decimal.Min(va.Low, b.BinStart)
	}
	return va, true
}

// greedySelection 累加到首次达到阈值为止，越过阈值的那一档计入，之后不再追加
func greedySelection(ranked []model.PriceBin, threshold decimal.Decimal) []model.PriceBin {
	cumulative := decimal.Zero
	for i, b := range ranked {
		cumulative = cumulative.Add(b.Volume)
		if cumulative.GreaterThanOrEqual(threshold) {
			return ranked[:i+1]
		}
	}
	return ranked
}

// boundedSelection 只保留累计量不超过阈值的前缀；POC 单档即超过阈值时只返回 POC
func boundedSelection(ranked []model.PriceBin, threshold decimal.Decimal) []model.PriceBin {
	cumulative := decimal.Zero
	n := 0
	for _, b := range ranked {
		cumulative = cumulative.Add(b.Volume)
		if cumulative.GreaterThan(threshold) {
			break
		}
		n++
	}
	if n == 0 {
		n = 1
	}
	return ranked[:n]
}
