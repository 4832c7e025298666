package data

import (
	"context"
	"errors"
	"time"

	"footprint-engine/internal/model"
	"footprint-engine/internal/service"

	"go.uber.org/zap"
)

// TradeSink 接收标准化后的成交批次 (DataEngine 实现)
type TradeSink interface {
	Submit(ctx context.Context, batch []model.TradeEvent) error
}

// Ingestor 从原始成交通道读取数据，标准化、分批后交给引擎。
// 格式错误的成交被记录并丢弃，不影响其它成交。
type Ingestor struct {
	sink          TradeSink
	batchSize     int
	flushInterval time.Duration
}

// NewIngestor flushInterval 为 0 时只在满批或输入结束时提交
func NewIngestor(sink TradeSink, batchSize int, flushInterval time.Duration) *Ingestor {
	return &Ingestor{sink: sink, batchSize: batchSize, flushInterval: flushInterval}
}

// Run 阻塞直到输入通道关闭或 ctx 结束。返回前提交剩余的批次。
func (in *Ingestor) Run(ctx context.Context, rawChan <-chan model.RawTrade) error {
	batcher := NewBatcher[model.TradeEvent](in.batchSize)

	var tick <-chan time.Time
	if in.flushInterval > 0 {
		ticker := time.NewTicker(in.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// 已缓冲的成交仍然提交，停机后 Flush 才能看到它们
			if err := in.submit(context.WithoutCancel(ctx), batcher.Drain()); err != nil {
				return err
			}
			return ctx.Err()

		case <-tick:
			if err := in.submit(ctx, batcher.Drain()); err != nil {
				return err
			}

		case raw, ok := <-rawChan:
			if !ok {
				return in.submit(ctx, batcher.Drain())
			}
			ev, err := model.NormalizeTrade(raw)
			if err != nil {
				in.reject(raw, err)
				continue
			}
			if batch, full := batcher.Add(ev); full {
				if err := in.submit(ctx, batch); err != nil {
					return err
				}
			}
		}
	}
}

func (in *Ingestor) submit(ctx context.Context, batch []model.TradeEvent) error {
	if len(batch) == 0 {
		return nil
	}
	return in.sink.Submit(ctx, batch)
}

func (in *Ingestor) reject(raw model.RawTrade, err error) {
	tradesRejected.WithLabelValues(reasonMalformed).Inc()

	var malformed *model.MalformedTradeError
	if errors.As(err, &malformed) {
		service.Logger.Warn("Dropping malformed trade",
			zap.String("Symbol", raw.Symbol),
			zap.String("Field", malformed.Field),
			zap.String("Value", malformed.Value),
			zap.String("Reason", malformed.Reason))
		return
	}
	service.Logger.Warn("Dropping malformed trade", zap.String("Symbol", raw.Symbol), zap.Error(err))
}
