package profile

import (
	"slices"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// DetectNodes 找出高成交量节点 (HVN) 和低成交量节点 (LVN)，结果按价格升序
func DetectNodes(bins []model.PriceBin, p Params) (hvn, lvn []decimal.Decimal) {
	switch p.NodeMethod {
	case NodeRanked:
		hvn, lvn = rankedNodes(bins)
	default:
		hvn, lvn = thresholdNodes(bins, p.HVNMultiplier, p.LVNMultiplier)
	}
	slices.SortFunc(hvn, decimal.Decimal.Cmp)
	slices.SortFunc(lvn, decimal.Decimal.Cmp)
	return hvn, lvn
}

// thresholdNodes 与非空档位平均量比较:
// volume >= hvnMul * mean 为 HVN, volume <= lvnMul * mean 为 LVN。
// 比较时两边同乘档位数，避免除法的精度损失。
func thresholdNodes(bins []model.PriceBin, hvnMul, lvnMul decimal.Decimal) (hvn, lvn []decimal.Decimal) {
	hvn, lvn = []decimal.Decimal{}, []decimal.Decimal{}

	sum := decimal.Zero
	n := int64(0)
	for _, b := range bins {
		if b.Volume.IsPositive() {
			sum = sum.Add(b.Volume)
			n++
		}
	}
	if n == 0 {
		return hvn, lvn
	}

	count := decimal.NewFromInt(n)
	hvnBound := hvnMul.Mul(sum)
	lvnBound := lvnMul.Mul(sum)
	for _, b := range bins {
		if !b.Volume.IsPositive() {
			continue
		}
		scaled := b.Volume.Mul(count)
		if scaled.GreaterThanOrEqual(hvnBound) {
			hvn = append(hvn, b.BinStart)
		}
		if scaled.LessThanOrEqual(lvnBound) {
			lvn = append(lvn, b.BinStart)
		}
	}
	return hvn, lvn
}

// rankedNodes 成交量排名前 10% 为 HVN，后 10% 为 LVN；不足 10 档时为空
func rankedNodes(bins []model.PriceBin) (hvn, lvn []decimal.Decimal) {
	hvn, lvn = []decimal.Decimal{}, []decimal.Decimal{}

	ranked := rankByVolume(bins)
	n := len(ranked) / 10
	if n == 0 {
		return hvn, lvn
	}
	for _, b := range ranked[:n] {
		hvn = append(hvn, b.BinStart)
	}
	for _, b := range ranked[len(ranked)-n:] {
		lvn = append(lvn, b.BinStart)
	}
	return hvn, lvn
}

// VolumeGaps 相邻有成交的档位之间存在空档时记录缺口；按精确价格分档时不计算
func VolumeGaps(bins []model.PriceBin, increment decimal.Decimal) []model.VolumeGap {
	gaps := []model.VolumeGap{}
	if increment.IsZero() {
		return gaps
	}
	for i := 1; i < len(bins); i++ {
		prev, next := bins[i-1], bins[i]
		if next.BinStart.GreaterThan(prev.BinEnd) {
			gaps = append(gaps, model.VolumeGap{Low: prev.BinEnd, High: next.BinStart})
		}
	}
	return gaps
}
