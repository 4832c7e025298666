package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"footprint-engine/internal/model"

	"go.uber.org/zap"
)

// Publisher 是分析结果的下游消费者 (API 层或存储层) 的通用接口
type Publisher interface {
	// 一个时间窗口关闭后的成交量分布报告和 Footprint 蜡烛
	PublishWindow(ctx context.Context, analysis model.WindowAnalysis) error

	// 一个 session 结束后的 TPO 图
	PublishSession(ctx context.Context, chart model.TPOChart) error

	// 一根已收盘 K 线的分析结果
	PublishBar(ctx context.Context, bar model.BarAnalysis) error
}

// LogPublisher 把结果摘要写入 zap 日志
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishWindow(_ context.Context, a model.WindowAnalysis) error {
	r := a.Report
	p.logger.Info("Volume profile",
		zap.String("Symbol", a.Symbol),
		zap.Int64("Start", r.Bucket.Start),
		zap.Int64("End", r.Bucket.End),
		zap.Stringer("POC", r.POC.Decimal),
		zap.Bool("Empty", !r.POC.Valid),
		zap.Stringer("VAH", r.ValueAreaHigh.Decimal),
		zap.Stringer("VAL", r.ValueAreaLow.Decimal),
		zap.Int("HVN", len(r.HVN)),
		zap.Int("LVN", len(r.LVN)),
		zap.Stringer("Delta", r.Delta),
		zap.Stringer("Dominance", r.Dominance),
		zap.Stringer("Volume", a.Footprint.Volume),
	)
	return nil
}

func (p *LogPublisher) PublishSession(_ context.Context, c model.TPOChart) error {
	p.logger.Info("TPO session",
		zap.String("Symbol", c.Symbol),
		zap.Int64("Start", c.Period.Start),
		zap.Int64("End", c.Period.End),
		zap.Stringer("POC", c.POC.Decimal),
		zap.Stringer("VAMin", c.ValueAreaMin.Decimal),
		zap.Stringer("VAMax", c.ValueAreaMax.Decimal),
		zap.Int("RotationFactor", c.RotationFactor),
		zap.Int("Levels", len(c.Levels)),
	)
	return nil
}

func (p *LogPublisher) PublishBar(_ context.Context, b model.BarAnalysis) error {
	fields := []zap.Field{
		zap.String("Symbol", b.Kline.Symbol),
		zap.String("Interval", b.Kline.Interval),
		zap.Int64("OpenTime", b.Kline.OpenTime),
		zap.Stringer("Delta", b.Footprint.Delta),
		zap.Stringer("POC", b.Profile.POC.Decimal),
		zap.Stringer("HP", b.HighProfile),
		zap.Stringer("LP", b.LowProfile),
	}
	if b.Ready {
		fields = append(fields,
			zap.Float64("RelativeVolume", b.RelativeVolume),
			zap.Float64("ATR", b.ATR),
			zap.Bool("Spike", b.VolumeSpike))
	}
	if b.VolumeSpike {
		p.logger.Warn("Volume spike on closed bar", fields...)
		return nil
	}
	p.logger.Debug("Bar closed", fields...)
	return nil
}

// record JSON lines 输出的一行
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JSONPublisher 每个结果写一行 JSON (字段名与数据模型一致)
type JSONPublisher struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONPublisher 写入任意 io.Writer
func NewJSONPublisher(w io.Writer) *JSONPublisher {
	p := &JSONPublisher{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// OpenJSONFile 以追加方式打开输出文件
func OpenJSONFile(path string) (*JSONPublisher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return NewJSONPublisher(f), nil
}

func (p *JSONPublisher) write(kind string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(record{Type: kind, Data: data}); err != nil {
		return fmt.Errorf("write %s record: %w", kind, err)
	}
	return nil
}

func (p *JSONPublisher) PublishWindow(_ context.Context, a model.WindowAnalysis) error {
	return p.write("window", a)
}

func (p *JSONPublisher) PublishSession(_ context.Context, c model.TPOChart) error {
	return p.write("session", c)
}

func (p *JSONPublisher) PublishBar(_ context.Context, b model.BarAnalysis) error {
	return p.write("bar", b)
}

func (p *JSONPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// MultiPublisher 依次发给多个 Publisher，收集所有错误
type MultiPublisher []Publisher

func (m MultiPublisher) PublishWindow(ctx context.Context, a model.WindowAnalysis) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishWindow(ctx, a))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishSession(ctx context.Context, c model.TPOChart) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishSession(ctx, c))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishBar(ctx context.Context, b model.BarAnalysis) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishBar(ctx, b))
	}
	return errors.Join(errs...)
}
