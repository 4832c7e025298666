package profile

import (
	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// ClassifyDominance delta > 0 为买方主导，< 0 为卖方主导，否则中性
func ClassifyDominance(delta decimal.Decimal) model.Dominance {
	switch delta.Sign() {
	case 1:
		return model.DominanceBuyers
	case -1:
		return model.DominanceSellers
	default:
		return model.DominanceNeutral
	}
}

// BucketDelta 窗口内主动买入量减主动卖出量
func BucketDelta(bucket model.TimeBucket) decimal.Decimal {
	delta := decimal.Zero
	for _, b := range bucket.Bins {
		delta = delta.Add(b.BuyVolume).Sub(b.SellVolume)
	}
	return delta
}

// Analyze 由已关闭的窗口推导成交量分布报告，没有隐藏状态，可重复计算
func Analyze(bucket model.TimeBucket, p Params) model.VolumeProfileReport {
	delta := BucketDelta(bucket)
	report := model.VolumeProfileReport{
		Bucket:    bucket,
		HVN:       []decimal.Decimal{},
		LVN:       []decimal.Decimal{},
		Gaps:      []model.VolumeGap{},
		Delta:     delta,
		Dominance: ClassifyDominance(delta),
	}
	if report.Bucket.Bins == nil {
		report.Bucket.Bins = []model.PriceBin{}
	}

	va, ok := ResolveValueArea(bucket, p.ValueAreaFraction, p.ValueAreaMethod)
	if !ok {
		return report
	}

	report.POC = decimal.NewNullDecimal(va.POC.BinStart)
	report.ValueAreaHigh = decimal.NewNullDecimal(va.High)
	report.ValueAreaLow = decimal.NewNullDecimal(va.Low)
	report.HVN, report.LVN = DetectNodes(bucket.Bins, p)
	report.Gaps = VolumeGaps(bucket.Bins, p.PriceIncrement)
	return report
}

// AnalyzeEvents 批量模式: 切分窗口、聚合、生成报告和 Footprint 蜡烛
func AnalyzeEvents(symbol string, events []model.TradeEvent, p Params) ([]model.VolumeProfileReport, []model.FootprintCandle, error) {
	var (
		reports []model.VolumeProfileReport
		candles []model.FootprintCandle
	)
	for group, err := range Bucketize(events, p.BucketWidthMillis()) {
		if err != nil {
			return reports, candles, err
		}
		bucket, err := AggregateGroup(symbol, group, p.PriceIncrement)
		if err != nil {
			return reports, candles, err
		}
		candle, err := BuildFootprint(symbol, group.Start, group.End, group.Events)
		if err != nil {
			return reports, candles, err
		}
		reports = append(reports, Analyze(bucket, p))
		candles = append(candles, candle)
	}
	return reports, candles, nil
}
