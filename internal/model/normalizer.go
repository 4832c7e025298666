package model

import (
	"strings"

	"footprint-engine/internal/service"

	"github.com/shopspring/decimal"
)

// 时间戳单位判断阈值
const (
	secondsUpperBound = int64(1e11) // 小于该值视为秒
	microsLowerBound  = int64(1e14) // 大于等于该值视为微秒
)

// 数值字段允许的范围，交易所的价格和数量远在其内
const (
	minDecimalExponent = -18
	maxDecimalExponent = 18
	maxDecimalDigits   = 36
)

// RawTrade 采集层 (WS / CSV / 数据库) 提供的原始成交记录，全部为字符串
type RawTrade struct {
	Symbol       string
	AggTradeID   string
	Price        string
	Quantity     string
	FirstTradeID string
	LastTradeID  string
	Timestamp    string
	IsBuyerMaker string // "true"/"false"/"1"/"0"
	Side         string // "buy"/"sell"，IsBuyerMaker 为空时使用
}

// RawKline 原始 K 线记录
type RawKline struct {
	Symbol              string
	Interval            string
	OpenTime            string
	Open                string
	High                string
	Low                 string
	Close               string
	Volume              string
	CloseTime           string
	QuoteAssetVolume    string
	Trades              string
	TakerBuyBaseVolume  string
	TakerBuyQuoteVolume string
}

// NormalizeTrade 校验并转换为 TradeEvent (纯函数)
func NormalizeTrade(raw RawTrade) (TradeEvent, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return TradeEvent{}, &MalformedTradeError{Field: "symbol", Reason: "missing"}
	}

	price, err := requiredDecimal("price", raw.Price)
	if err != nil {
		return TradeEvent{}, err
	}
	if !price.IsPositive() {
		return TradeEvent{}, &MalformedTradeError{Field: "price", Value: raw.Price, Reason: "must be positive"}
	}

	quantity, err := requiredDecimal("quantity", raw.Quantity)
	if err != nil {
		return TradeEvent{}, err
	}
	if !quantity.IsPositive() {
		return TradeEvent{}, &MalformedTradeError{Field: "quantity", Value: raw.Quantity, Reason: "must be positive"}
	}

	ts, err := requiredTimestamp("timestamp", raw.Timestamp)
	if err != nil {
		return TradeEvent{}, err
	}

	isBuyerMaker, err := parseSide(raw.IsBuyerMaker, raw.Side)
	if err != nil {
		return TradeEvent{}, err
	}

	return TradeEvent{
		Symbol:       symbol,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    ts,
		IsBuyerMaker: isBuyerMaker,
	}, nil
}

// NormalizeKline 校验并转换为 KLine
func NormalizeKline(raw RawKline) (KLine, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return KLine{}, &MalformedTradeError{Field: "symbol", Reason: "missing"}
	}

	k := KLine{Symbol: symbol, Interval: strings.TrimSpace(raw.Interval)}

	var err error
	if k.OpenTime, err = requiredTimestamp("openTime", raw.OpenTime); err != nil {
		return KLine{}, err
	}
	if k.CloseTime, err = requiredTimestamp("closeTime", raw.CloseTime); err != nil {
		return KLine{}, err
	}
	if k.Open, err = requiredDecimal("open", raw.Open); err != nil {
		return KLine{}, err
	}
	if k.High, err = requiredDecimal("high", raw.High); err != nil {
		return KLine{}, err
	}
	if k.Low, err = requiredDecimal("low", raw.Low); err != nil {
		return KLine{}, err
	}
	if k.Close, err = requiredDecimal("close", raw.Close); err != nil {
		return KLine{}, err
	}
	if k.Volume, err = requiredDecimal("volume", raw.Volume); err != nil {
		return KLine{}, err
	}
	if k.TakerBuyBaseVolume, err = requiredDecimal("takerBuyBaseVolume", raw.TakerBuyBaseVolume); err != nil {
		return KLine{}, err
	}

	// 可选字段
	if strings.TrimSpace(raw.QuoteAssetVolume) != "" {
		if k.QuoteAssetVolume, err = requiredDecimal("quoteAssetVolume", raw.QuoteAssetVolume); err != nil {
			return KLine{}, err
		}
	}
	if strings.TrimSpace(raw.TakerBuyQuoteVolume) != "" {
		if k.TakerBuyQuoteVolume, err = requiredDecimal("takerBuyQuoteVolume", raw.TakerBuyQuoteVolume); err != nil {
			return KLine{}, err
		}
	}
	if strings.TrimSpace(raw.Trades) != "" {
		if k.Trades, err = service.StringToInt64(raw.Trades); err != nil {
			return KLine{}, &MalformedTradeError{Field: "trades", Value: raw.Trades, Reason: "not an integer"}
		}
	}

	if k.High.LessThan(k.Low) {
		return KLine{}, &MalformedTradeError{Field: "high", Value: raw.High, Reason: "below low"}
	}
	if k.Volume.IsNegative() {
		return KLine{}, &MalformedTradeError{Field: "volume", Value: raw.Volume, Reason: "negative"}
	}
	if k.TakerBuyBaseVolume.IsNegative() || k.TakerBuyBaseVolume.GreaterThan(k.Volume) {
		return KLine{}, &MalformedTradeError{Field: "takerBuyBaseVolume", Value: raw.TakerBuyBaseVolume, Reason: "outside [0, volume]"}
	}
	if k.CloseTime < k.OpenTime {
		return KLine{}, &MalformedTradeError{Field: "closeTime", Value: raw.CloseTime, Reason: "before openTime"}
	}

	return k, nil
}

// NormalizeTimestamp 将秒 / 微秒时间戳统一为毫秒
func NormalizeTimestamp(ts int64) int64 {
	switch {
	case ts >= microsLowerBound:
		return ts / 1000
	case ts > 0 && ts < secondsUpperBound:
		return ts * 1000
	default:
		return ts
	}
}

func requiredDecimal(field, value string) (d decimal.Decimal, err error) {
	if strings.TrimSpace(value) == "" {
		return d, &MalformedTradeError{Field: field, Reason: "missing"}
	}
	d, err = service.StringToDecimal(value)
	if err != nil {
		return d, &MalformedTradeError{Field: field, Value: value, Reason: "not numeric"}
	}
	// 指数过大时分档的 Mod 运算无法完成
	if exp := d.Exponent(); exp < minDecimalExponent || exp > maxDecimalExponent || d.NumDigits() > maxDecimalDigits {
		return decimal.Decimal{}, &MalformedTradeError{Field: field, Value: value, Reason: "out of range"}
	}
	return d, nil
}

func requiredTimestamp(field, value string) (int64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, &MalformedTradeError{Field: field, Reason: "missing"}
	}
	ts, err := service.StringToInt64(value)
	if err != nil {
		return 0, &MalformedTradeError{Field: field, Value: value, Reason: "not an integer"}
	}
	if ts < 0 {
		return 0, &MalformedTradeError{Field: field, Value: value, Reason: "negative"}
	}
	return NormalizeTimestamp(ts), nil
}

// parseSide Binance 的 is_buyer_maker 优先，其次是 buy/sell 方向
// side="buy" 意味着主动买入，即买方不是 Maker
func parseSide(isBuyerMaker, side string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(isBuyerMaker)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	case "":
	default:
		return false, &MalformedTradeError{Field: "isBuyerMaker", Value: isBuyerMaker, Reason: "not a boolean"}
	}

	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy":
		return false, nil
	case "sell":
		return true, nil
	case "":
		return false, &MalformedTradeError{Field: "isBuyerMaker", Reason: "missing"}
	default:
		return false, &MalformedTradeError{Field: "side", Value: side, Reason: "expected buy or sell"}
	}
}
