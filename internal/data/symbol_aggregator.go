package data

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"footprint-engine/internal/model"
	"footprint-engine/internal/output"
	"footprint-engine/pkg/profile"

	"go.uber.org/zap"
)

// ErrSymbolSuspect 交易对出现过序列错误，之后的成交不再计入
var ErrSymbolSuspect = errors.New("symbol marked suspect")

// SymbolAggregator 单个交易对的流式聚合器，只持有当前打开的窗口和 session。
// 同一交易对的成交必须按到达顺序调用 Apply。
type SymbolAggregator struct {
	mu        sync.Mutex
	Symbol    string
	params    profile.Params
	publisher output.Publisher
	logger    *zap.Logger

	bucket    *profile.Aggregator       // 正在构建的窗口，nil 表示没有打开的窗口
	footprint *profile.FootprintBuilder // 与 bucket 同一窗口
	bucketEnd int64
	session   *profile.TPOBuilder
	sessionAt model.Interval

	lastTs  int64
	seen    bool
	suspect error // 出现 SequencingError 后本次运行的该交易对结果视为可疑
}

// NewSymbolAggregator 创建单交易对聚合器
func NewSymbolAggregator(symbol string, params profile.Params, publisher output.Publisher, logger *zap.Logger) *SymbolAggregator {
	return &SymbolAggregator{
		Symbol:    symbol,
		params:    params,
		publisher: publisher,
		logger:    logger.With(zap.String("Symbol", symbol)),
	}
}

// Apply 把一笔成交计入当前窗口；成交越过窗口终点时先关闭并发布旧窗口
func (s *SymbolAggregator) Apply(ctx context.Context, ev model.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suspect != nil {
		tradesRejected.WithLabelValues(reasonSuspect).Inc()
		return fmt.Errorf("%w: %w", ErrSymbolSuspect, s.suspect)
	}

	if s.seen && ev.Timestamp < s.lastTs {
		start := s.lastTs
		if s.bucket != nil {
			start = s.bucketEnd - s.params.BucketWidthMillis()
		}
		err := &model.SequencingError{
			Symbol:        s.Symbol,
			Timestamp:     ev.Timestamp,
			BucketStart:   start,
			LastTimestamp: s.lastTs,
		}
		s.suspect = err
		tradesRejected.WithLabelValues(reasonSequencing).Inc()
		s.logger.Error("Out-of-order trade, symbol marked suspect",
			zap.Int64("TS", ev.Timestamp), zap.Int64("LastTS", s.lastTs))
		return err
	}

	var errs []error
	if s.bucket != nil && ev.Timestamp >= s.bucketEnd {
		errs = append(errs, s.closeBucket(ctx))
	}
	if s.session != nil && ev.Timestamp >= s.sessionAt.End {
		errs = append(errs, s.closeSession(ctx))
	}

	if s.bucket == nil {
		s.openBucket(ev.Timestamp)
	}
	if s.session == nil {
		s.openSession(ev.Timestamp)
	}

	// 窗口由本方法维护，这里的错误意味着内部状态不一致
	if err := s.bucket.Add(ev); err != nil {
		return err
	}
	if err := s.footprint.Add(ev); err != nil {
		return err
	}
	if err := s.session.Add(ev); err != nil {
		return err
	}

	s.lastTs = ev.Timestamp
	s.seen = true
	tradesApplied.WithLabelValues(s.Symbol).Inc()
	return errors.Join(errs...)
}

// Flush 立即关闭当前窗口和 session (例如流结束或停机)。
// 没有打开的窗口时，以 at 所在的窗口发布一个空报告。
func (s *SymbolAggregator) Flush(ctx context.Context, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bucket == nil {
		s.openBucket(at)
	}
	var errs []error
	errs = append(errs, s.closeBucket(ctx))
	if s.session != nil {
		errs = append(errs, s.closeSession(ctx))
	}
	return errors.Join(errs...)
}

// Suspect 返回导致该交易对被标记为可疑的错误
func (s *SymbolAggregator) Suspect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspect
}

func (s *SymbolAggregator) openBucket(ts int64) {
	width := s.params.BucketWidthMillis()
	start := profile.BucketStart(ts, width)
	s.bucketEnd = start + width
	s.bucket = profile.NewAggregator(s.Symbol, start, s.bucketEnd, s.params.PriceIncrement)
	s.footprint = profile.NewFootprintBuilder(s.Symbol, start, s.bucketEnd)
}

func (s *SymbolAggregator) openSession(ts int64) {
	width := s.params.SessionWidth.Milliseconds()
	start := profile.BucketStart(ts, width)
	s.sessionAt = model.Interval{Start: start, End: start + width}
	s.session = profile.NewTPOBuilder(s.Symbol, s.sessionAt, s.params.TPOPeriod.Milliseconds(),
		s.params.PriceIncrement, s.params.ValueAreaFraction)
}

// closeBucket 窗口关闭后不可变，生成报告并发布
func (s *SymbolAggregator) closeBucket(ctx context.Context) error {
	bucket := s.bucket.Bucket()
	analysis := model.WindowAnalysis{
		Symbol:    s.Symbol,
		Report:    profile.Analyze(bucket, s.params),
		Footprint: s.footprint.Candle(),
	}
	s.bucket, s.footprint = nil, nil

	bucketsClosed.WithLabelValues(s.Symbol).Inc()
	bucketBins.Observe(float64(len(bucket.Bins)))
	s.logger.Debug("Bucket closed",
		zap.Int64("Start", bucket.Start),
		zap.Int("Bins", len(bucket.Bins)),
		zap.Stringer("Volume", bucket.TotalVolume))

	if err := s.publisher.PublishWindow(ctx, analysis); err != nil {
		publishErrors.Inc()
		s.logger.Error("Failed to publish window analysis", zap.Error(err))
		return err
	}
	return nil
}

func (s *SymbolAggregator) closeSession(ctx context.Context) error {
	chart := s.session.Chart()
	s.session = nil

	sessionsClosed.WithLabelValues(s.Symbol).Inc()
	if err := s.publisher.PublishSession(ctx, chart); err != nil {
		publishErrors.Inc()
		s.logger.Error("Failed to publish TPO session", zap.Error(err))
		return err
	}
	return nil
}
