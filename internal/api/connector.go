package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"footprint-engine/internal/model"
	"footprint-engine/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// BinanceStreamMessage 组合流 (/stream?streams=...) 的外层结构
type BinanceStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"` // 按 stream 类型延迟解析
}

// BinanceAggTrade aggTrade 频道数据
type BinanceAggTrade struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceKlineEvent kline 频道数据
type BinanceKlineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime            int64  `json:"t"`
		CloseTime           int64  `json:"T"`
		Interval            string `json:"i"`
		Open                string `json:"o"`
		Close               string `json:"c"`
		High                string `json:"h"`
		Low                 string `json:"l"`
		Volume              string `json:"v"`
		Trades              int64  `json:"n"`
		IsClosed            bool   `json:"x"` // 只有收盘的 K 线才向下游发送
		QuoteAssetVolume    string `json:"q"`
		TakerBuyBaseVolume  string `json:"V"`
		TakerBuyQuoteVolume string `json:"Q"`
	} `json:"k"`
}

// Connector Binance 组合流客户端，输出原始成交和已收盘 K 线
type Connector struct {
	wsURL         string
	symbols       []string
	klineInterval string // 为空时不订阅 K 线
	tradeChannel  chan model.RawTrade
	klineChannel  chan model.RawKline
	dialer        *websocket.Dialer
}

// NewConnector 创建连接器，symbols 使用交易所格式 (例如 BTCUSDT)
func NewConnector(wsURL string, symbols []string, klineInterval string) *Connector {
	service.Logger.Info("Connector initialized", zap.Strings("Symbols", symbols), zap.String("KlineInterval", klineInterval))

	return &Connector{
		wsURL:         wsURL,
		symbols:       symbols,
		klineInterval: klineInterval,
		// 确保通道有足够的缓冲区来应对高频数据
		tradeChannel: make(chan model.RawTrade, 2048),
		klineChannel: make(chan model.RawKline, 256),
		dialer:       websocket.DefaultDialer,
	}
}

// StreamURL 构造组合流地址，例如 .../stream?streams=btcusdt@aggTrade/btcusdt@kline_1m
func (c *Connector) StreamURL() (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}

	streams := make([]string, 0, len(c.symbols)*2)
	for _, s := range c.symbols {
		s = strings.ToLower(s)
		streams = append(streams, s+"@aggTrade")
		if c.klineInterval != "" {
			streams = append(streams, s+"@kline_"+c.klineInterval)
		}
	}

	// Binance 要求 streams 参数不做转义
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// Run 连接并持续读取，断线后按指数退避重连，直到 ctx 结束。
// 返回前关闭输出通道。
func (c *Connector) Run(ctx context.Context) error {
	defer close(c.tradeChannel)
	defer close(c.klineChannel)

	streamURL, err := c.StreamURL()
	if err != nil {
		return err
	}

	delay := minReconnectDelay
	for {
		connected, err := c.session(ctx, streamURL)
		if ctx.Err() != nil {
			service.Logger.Info("Connector stopped")
			return nil
		}
		if connected {
			delay = minReconnectDelay
		}
		service.Logger.Error("WS session ended, attempting to reconnect...",
			zap.Error(err), zap.Duration("Delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session 建立一次连接并运行读循环；connected 表示握手是否成功
func (c *Connector) session(ctx context.Context, streamURL string) (connected bool, err error) {
	service.Logger.Info("Starting Binance WS combined stream...", zap.String("URL", streamURL))

	conn, _, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接以打断阻塞的 ReadMessage
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	service.Logger.Info("Subscribed to Binance aggTrade and kline streams successfully")
	return true, c.readLoop(ctx, conn)
}

// readLoop 持续读取 WS 消息并处理
func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		trade, kline, err := parseStreamMessage(message)
		if err != nil {
			service.Logger.Debug("Skipping unparseable WS message", zap.Error(err))
			continue
		}

		// 阻塞发送: 丢弃成交会破坏成交量守恒
		switch {
		case trade != nil:
			select {
			case c.tradeChannel <- *trade:
			case <-ctx.Done():
				return ctx.Err()
			}
		case kline != nil:
			select {
			case c.klineChannel <- *kline:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

var errUnknownStream = errors.New("unknown stream")

// parseStreamMessage 解析一条组合流消息。
// 未收盘的 K 线返回 (nil, nil, nil)。
func parseStreamMessage(message []byte) (*model.RawTrade, *model.RawKline, error) {
	var msg BinanceStreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(msg.Data) == 0 {
		// 订阅确认等控制消息
		return nil, nil, nil
	}

	_, kind, _ := strings.Cut(msg.Stream, "@")
	switch {
	case kind == "aggTrade":
		var t BinanceAggTrade
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			return nil, nil, fmt.Errorf("unmarshal aggTrade: %w", err)
		}
		return &model.RawTrade{
			Symbol:       t.Symbol,
			AggTradeID:   strconv.FormatInt(t.AggTradeID, 10),
			Price:        t.Price,
			Quantity:     t.Quantity,
			FirstTradeID: strconv.FormatInt(t.FirstTradeID, 10),
			LastTradeID:  strconv.FormatInt(t.LastTradeID, 10),
			Timestamp:    strconv.FormatInt(t.TradeTime, 10),
			IsBuyerMaker: strconv.FormatBool(t.IsBuyerMaker),
		}, nil, nil

	case strings.HasPrefix(kind, "kline_"):
		var e BinanceKlineEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return nil, nil, fmt.Errorf("unmarshal kline: %w", err)
		}
		if !e.Kline.IsClosed {
			return nil, nil, nil
		}
		k := e.Kline
		return nil, &model.RawKline{
			Symbol:              e.Symbol,
			Interval:            k.Interval,
			OpenTime:            strconv.FormatInt(k.OpenTime, 10),
			Open:                k.Open,
			High:                k.High,
			Low:                 k.Low,
			Close:               k.Close,
			Volume:              k.Volume,
			CloseTime:           strconv.FormatInt(k.CloseTime, 10),
			QuoteAssetVolume:    k.QuoteAssetVolume,
			Trades:              strconv.FormatInt(k.Trades, 10),
			TakerBuyBaseVolume:  k.TakerBuyBaseVolume,
			TakerBuyQuoteVolume: k.TakerBuyQuoteVolume,
		}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", errUnknownStream, msg.Stream)
	}
}

// GetTradeChannel 原始成交输出
func (c *Connector) GetTradeChannel() <-chan model.RawTrade {
	return c.tradeChannel
}

// GetKlineChannel 已收盘 K 线输出
func (c *Connector) GetKlineChannel() <-chan model.RawKline {
	return c.klineChannel
}
