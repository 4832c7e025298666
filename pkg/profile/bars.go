package profile

import (
	"slices"

	"footprint-engine/internal/model"

	"github.com/shopspring/decimal"
)

// FootprintFromBar 用 K 线的主动买入量近似买卖压力:
// buy = takerBuyBaseVolume, sell = volume - takerBuyBaseVolume
func FootprintFromBar(k model.KLine) model.FootprintCandle {
	buy := k.TakerBuyBaseVolume
	sell := k.Volume.Sub(buy)
	return model.FootprintCandle{
		Symbol:        k.Symbol,
		IntervalStart: k.OpenTime,
		IntervalEnd:   k.CloseTime + 1,
		Open:          decimal.NewNullDecimal(k.Open),
		Close:         decimal.NewNullDecimal(k.Close),
		BuyPressure:   buy,
		SellPressure:  sell,
		Delta:         buy.Sub(sell),
		Volume:        k.Volume,
	}
}

// ProfileFromBars 只有 K 线数据时的粗粒度成交量分布: 每根 K 线的成交量计入其收盘价所在档位。
// K 线必须按开盘时间升序。
func ProfileFromBars(symbol string, bars []model.KLine, increment decimal.Decimal) (model.TimeBucket, error) {
	if len(bars) == 0 {
		return model.TimeBucket{Symbol: symbol, Bins: []model.PriceBin{}}, nil
	}

	bucket := model.TimeBucket{
		Symbol: symbol,
		Start:  bars[0].OpenTime,
		End:    bars[len(bars)-1].CloseTime + 1,
		Bins:   []model.PriceBin{},
	}

	last := bars[0].OpenTime
	for _, k := range bars {
		if k.OpenTime < last {
			return model.TimeBucket{}, &model.SequencingError{
				Symbol:        symbol,
				Timestamp:     k.OpenTime,
				BucketStart:   bucket.Start,
				LastTimestamp: last,
			}
		}
		last = k.OpenTime
		if !k.Volume.IsPositive() {
			continue
		}

		key := BinKey(k.Close, increment)
		idx, found := slices.BinarySearchFunc(bucket.Bins, key, compareBinStart)
		if !found {
			bucket.Bins = slices.Insert(bucket.Bins, idx, model.PriceBin{BinStart: key, BinEnd: key.Add(increment)})
		}
		bin := &bucket.Bins[idx]
		sell := k.Volume.Sub(k.TakerBuyBaseVolume)
		bin.Volume = bin.Volume.Add(k.Volume)
		bin.BuyVolume = bin.BuyVolume.Add(k.TakerBuyBaseVolume)
		bin.SellVolume = bin.SellVolume.Add(sell)
		bucket.TotalVolume = bucket.TotalVolume.Add(k.Volume)
	}
	return bucket, nil
}
