package data

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"footprint-engine/internal/model"
	"footprint-engine/internal/service"
	"footprint-engine/pkg/profile"
	"footprint-engine/pkg/ta"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const base = int64(1_692_144_000_000) // 2023-08-16 00:00:00 UTC

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trade(symbol, price, qty string, ts int64, buyerMaker bool) model.TradeEvent {
	return model.TradeEvent{
		Symbol:       symbol,
		Price:        d(price),
		Quantity:     d(qty),
		Timestamp:    ts,
		IsBuyerMaker: buyerMaker,
	}
}

// MockPublisher is a mock implementation of output.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishWindow(ctx context.Context, a model.WindowAnalysis) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockPublisher) PublishSession(ctx context.Context, c model.TPOChart) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockPublisher) PublishBar(ctx context.Context, b model.BarAnalysis) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

// recorder collects everything published, safe for concurrent workers
type recorder struct {
	mu       sync.Mutex
	windows  []model.WindowAnalysis
	sessions []model.TPOChart
	bars     []model.BarAnalysis
}

func (r *recorder) PublishWindow(_ context.Context, a model.WindowAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, a)
	return nil
}

func (r *recorder) PublishSession(_ context.Context, c model.TPOChart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, c)
	return nil
}

func (r *recorder) PublishBar(_ context.Context, b model.BarAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, b)
	return nil
}

func (r *recorder) windowsFor(symbol string) []model.WindowAnalysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.WindowAnalysis
	for _, w := range r.windows {
		if w.Symbol == symbol {
			out = append(out, w)
		}
	}
	return out
}

func windowStarting(start int64) any {
	return mock.MatchedBy(func(a model.WindowAnalysis) bool {
		return a.Report.Bucket.Start == start
	})
}

func TestSymbolAggregator_ClosesBucketOnCrossing(t *testing.T) {
	pub := &MockPublisher{}
	width := 30 * time.Minute.Milliseconds()
	pub.On("PublishWindow", mock.Anything, windowStarting(base)).Return(nil).Once()

	agg := NewSymbolAggregator("BTCUSDT", profile.DefaultParams(), pub, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "100", "1", base+1_000, false)))
	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "100.5", "2", base+2_000, true)))
	pub.AssertNotCalled(t, "PublishWindow", mock.Anything, mock.Anything)

	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "101", "3", base+width, false)))
	pub.AssertExpectations(t)

	first := pub.Calls[0].Arguments.Get(1).(model.WindowAnalysis)
	assert.True(t, first.Report.Bucket.TotalVolume.Equal(d("3")))
	assert.True(t, first.Report.POC.Decimal.Equal(d("100.5")))
	assert.True(t, first.Footprint.Delta.Equal(d("-1")))

	pub.On("PublishWindow", mock.Anything, windowStarting(base+width)).Return(nil).Once()
	pub.On("PublishSession", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, agg.Flush(ctx, base+width))
	pub.AssertExpectations(t)

	chart := pub.Calls[2].Arguments.Get(1).(model.TPOChart)
	assert.Equal(t, base, chart.Period.Start)
	assert.True(t, chart.Delta.Equal(d("2")))
}

func TestSymbolAggregator_SequencingMarksSuspect(t *testing.T) {
	pub := &MockPublisher{}
	agg := NewSymbolAggregator("BTCUSDT", profile.DefaultParams(), pub, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "100", "1", base+5_000, false)))

	err := agg.Apply(ctx, trade("BTCUSDT", "100", "1", base+4_000, false))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSequencing)
	var seq *model.SequencingError
	require.ErrorAs(t, err, &seq)
	assert.Equal(t, base, seq.BucketStart)
	assert.Equal(t, base+5_000, seq.LastTimestamp)
	assert.Equal(t, err, agg.Suspect())

	// 之后的成交全部拒绝
	err = agg.Apply(ctx, trade("BTCUSDT", "100", "1", base+6_000, false))
	assert.ErrorIs(t, err, ErrSymbolSuspect)
	assert.ErrorIs(t, err, model.ErrSequencing)
	pub.AssertNotCalled(t, "PublishWindow", mock.Anything, mock.Anything)
}

func TestSymbolAggregator_EqualTimestampsAccepted(t *testing.T) {
	pub := &MockPublisher{}
	agg := NewSymbolAggregator("BTCUSDT", profile.DefaultParams(), pub, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "100", "1", base, false)))
	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "101", "1", base, true)))
	assert.NoError(t, agg.Suspect())
}

func TestSymbolAggregator_FlushWithoutTradesPublishesEmptyReport(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishWindow", mock.Anything, mock.MatchedBy(func(a model.WindowAnalysis) bool {
		r := a.Report
		return r.Bucket.Start == base && r.Bucket.IsEmpty() &&
			!r.POC.Valid && !r.ValueAreaHigh.Valid && !r.ValueAreaLow.Valid &&
			len(r.HVN) == 0 && len(r.LVN) == 0 && r.Dominance == model.DominanceNeutral
	})).Return(nil).Once()

	agg := NewSymbolAggregator("ETHUSDT", profile.DefaultParams(), pub, zap.NewNop())
	require.NoError(t, agg.Flush(context.Background(), base+10))
	pub.AssertExpectations(t)
	pub.AssertNotCalled(t, "PublishSession", mock.Anything, mock.Anything)
}

func TestSymbolAggregator_PublishErrorReturned(t *testing.T) {
	pub := &MockPublisher{}
	boom := errors.New("downstream unavailable")
	pub.On("PublishWindow", mock.Anything, mock.Anything).Return(boom)

	agg := NewSymbolAggregator("BTCUSDT", profile.DefaultParams(), pub, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, agg.Apply(ctx, trade("BTCUSDT", "100", "1", base, false)))

	// 发布失败不影响新成交入窗
	err := agg.Apply(ctx, trade("BTCUSDT", "100", "1", base+30*time.Minute.Milliseconds(), false))
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, agg.Suspect())
}

func TestDataEngine_SubmitAndFlush(t *testing.T) {
	rec := &recorder{}
	engine := NewDataEngine(profile.DefaultParams(), rec, 4)
	ctx := context.Background()
	width := 30 * time.Minute.Milliseconds()

	batch := []model.TradeEvent{
		trade("BTCUSDT", "100", "1", base+1, false),
		trade("ETHUSDT", "10", "5", base+2, true),
		trade("BTCUSDT", "100.5", "2", base+3, true),
		trade("BTCUSDT", "101", "4", base+width+1, false),
		trade("ETHUSDT", "10.5", "1", base+width+2, false),
	}
	require.NoError(t, engine.Submit(ctx, batch[:2]))
	require.NoError(t, engine.Submit(ctx, batch[2:]))
	require.NoError(t, engine.Flush(ctx, base+width+3))
	engine.Close()

	btc := rec.windowsFor("BTCUSDT")
	require.Len(t, btc, 2)
	eth := rec.windowsFor("ETHUSDT")
	require.Len(t, eth, 2)

	// 每个交易对的成交量守恒
	total := func(ws []model.WindowAnalysis) decimal.Decimal {
		sum := decimal.Zero
		for _, w := range ws {
			sum = sum.Add(w.Report.Bucket.TotalVolume)
		}
		return sum
	}
	assert.True(t, total(btc).Equal(d("7")))
	assert.True(t, total(eth).Equal(d("6")))

	assert.Equal(t, base, btc[0].Report.Bucket.Start)
	assert.Equal(t, base+width, btc[1].Report.Bucket.Start)
	assert.Len(t, rec.sessions, 2)

	for err := range engine.Errors() {
		t.Fatalf("unexpected engine error: %v", err)
	}
}

func TestDataEngine_SequencingErrorReportedOnce(t *testing.T) {
	rec := &recorder{}
	engine := NewDataEngine(profile.DefaultParams(), rec, 4)
	ctx := context.Background()

	require.NoError(t, engine.Submit(ctx, []model.TradeEvent{
		trade("BTCUSDT", "100", "1", base+10, false),
		trade("BTCUSDT", "100", "1", base+5, false),
		trade("BTCUSDT", "100", "1", base+20, false),
		trade("ETHUSDT", "10", "1", base+1, false),
	}))
	require.NoError(t, engine.Flush(ctx, base+30))

	assert.ErrorIs(t, engine.Suspect("BTCUSDT"), model.ErrSequencing)
	assert.NoError(t, engine.Suspect("ETHUSDT"))
	assert.NoError(t, engine.Suspect("XRPUSDT"))

	engine.Close()
	var errs []error
	for err := range engine.Errors() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrSequencing)

	// ETH 不受影响
	eth := rec.windowsFor("ETHUSDT")
	require.Len(t, eth, 1)
	assert.True(t, eth[0].Report.Bucket.TotalVolume.Equal(d("1")))
}

func TestDataEngine_RegisterEmitsEmptyReport(t *testing.T) {
	rec := &recorder{}
	engine := NewDataEngine(profile.DefaultParams(), rec, 0)
	require.NoError(t, engine.Register("BTCUSDT"))
	require.NoError(t, engine.Flush(context.Background(), base))
	engine.Close()

	btc := rec.windowsFor("BTCUSDT")
	require.Len(t, btc, 1)
	assert.False(t, btc[0].Report.POC.Valid)
}

func TestDataEngine_ClosedRejectsWork(t *testing.T) {
	engine := NewDataEngine(profile.DefaultParams(), &recorder{}, 1)
	engine.Close()
	engine.Close()

	err := engine.Submit(context.Background(), []model.TradeEvent{trade("BTCUSDT", "1", "1", base, false)})
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, engine.Flush(context.Background(), base), ErrEngineClosed)
}

func TestBatcher(t *testing.T) {
	b := NewBatcher[int](3)

	_, full := b.Add(1)
	assert.False(t, full)
	_, full = b.Add(2)
	assert.False(t, full)
	batch, full := b.Add(3)
	assert.True(t, full)
	assert.Equal(t, []int{1, 2, 3}, batch)
	assert.Equal(t, 0, b.Len())

	b.Add(4)
	assert.Equal(t, []int{4}, b.Drain())
	assert.Nil(t, b.Drain())
}

type sinkFunc func(ctx context.Context, batch []model.TradeEvent) error

func (f sinkFunc) Submit(ctx context.Context, batch []model.TradeEvent) error {
	return f(ctx, batch)
}

func TestIngestor_DropsMalformedAndBatches(t *testing.T) {
	var batches [][]model.TradeEvent
	sink := sinkFunc(func(_ context.Context, batch []model.TradeEvent) error {
		batches = append(batches, batch)
		return nil
	})

	raw := make(chan model.RawTrade, 10)
	raw <- model.RawTrade{Symbol: "btcusdt", Price: "100", Quantity: "1", Timestamp: "1692144000000", IsBuyerMaker: "false"}
	raw <- model.RawTrade{Symbol: "btcusdt", Price: "abc", Quantity: "1", Timestamp: "1692144000001", IsBuyerMaker: "false"}
	raw <- model.RawTrade{Symbol: "btcusdt", Price: "101", Quantity: "2", Timestamp: "1692144000002", IsBuyerMaker: "true"}
	raw <- model.RawTrade{Symbol: "btcusdt", Price: "102", Quantity: "-1", Timestamp: "1692144000003", IsBuyerMaker: "true"}
	raw <- model.RawTrade{Symbol: "btcusdt", Price: "102", Quantity: "3", Timestamp: "1692144000004", Side: "buy"}
	close(raw)

	in := NewIngestor(sink, 2, 0)
	require.NoError(t, in.Run(context.Background(), raw))

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "BTCUSDT", batches[0][0].Symbol)
	assert.True(t, batches[1][0].Quantity.Equal(d("3")))
	assert.True(t, batches[1][0].IsTakerBuy())
}

func TestIngestor_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := NewIngestor(sinkFunc(func(context.Context, []model.TradeEvent) error { return nil }), 10, time.Second)
	err := in.Run(ctx, make(chan model.RawTrade))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestor_SinkErrorStopsRun(t *testing.T) {
	boom := errors.New("engine closed")
	in := NewIngestor(sinkFunc(func(context.Context, []model.TradeEvent) error { return boom }), 1, 0)

	raw := make(chan model.RawTrade, 1)
	raw <- model.RawTrade{Symbol: "BTCUSDT", Price: "1", Quantity: "1", Timestamp: "1692144000000", IsBuyerMaker: "true"}
	assert.ErrorIs(t, in.Run(context.Background(), raw), boom)
}

func TestBarProcessor_Process(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishBar", mock.Anything, mock.MatchedBy(func(b model.BarAnalysis) bool {
		return !b.Ready && b.Footprint.Delta.Equal(d("4")) && b.Profile.POC.Valid
	})).Return(nil).Once()

	bp := NewBarProcessor(ta.NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5), profile.DefaultParams(), pub)
	k := model.KLine{
		Symbol:             "BTCUSDT",
		Interval:           "1m",
		OpenTime:           base,
		CloseTime:          base + 59_999,
		Open:               d("100"),
		High:               d("101"),
		Low:                d("99"),
		Close:              d("100.5"),
		Volume:             d("10"),
		TakerBuyBaseVolume: d("7"),
	}
	analysis, err := bp.Process(context.Background(), k)
	require.NoError(t, err)
	assert.True(t, analysis.Footprint.BuyPressure.Equal(d("7")))
	assert.True(t, analysis.Footprint.SellPressure.Equal(d("3")))
	assert.Equal(t, base+60_000, analysis.Footprint.IntervalEnd)

	// 单根 K 线的分布: 全部成交量落在收盘价档位
	assert.True(t, analysis.Profile.POC.Decimal.Equal(d("100.5")))
	assert.True(t, analysis.Profile.Bucket.TotalVolume.Equal(d("10")))
	assert.True(t, analysis.Profile.Delta.Equal(d("4")))
	assert.Equal(t, base, analysis.Profile.Bucket.Start)
	assert.Equal(t, base+60_000, analysis.Profile.Bucket.End)
	assert.True(t, analysis.HighProfile.Equal(d("101")))
	assert.True(t, analysis.LowProfile.Equal(d("99")))
	pub.AssertExpectations(t)
}

func TestBarProcessor_ProfileWindowIsBounded(t *testing.T) {
	rec := &recorder{}
	bp := NewBarProcessor(ta.NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5), profile.DefaultParams(), rec)

	bar := func(i int64) model.KLine {
		return model.KLine{
			Symbol:             "ETHUSDT",
			Interval:           "1m",
			OpenTime:           base + i*60_000,
			CloseTime:          base + i*60_000 + 59_999,
			Open:               d("100"),
			High:               decimal.NewFromInt(200 - i),
			Low:                decimal.NewFromInt(50 + i),
			Close:              d("100"),
			Volume:             d("1"),
			TakerBuyBaseVolume: decimal.Zero,
		}
	}

	ctx := context.Background()
	total := int64(barProfileWindow + 5)
	for i := range total {
		_, err := bp.Process(ctx, bar(i))
		require.NoError(t, err)
	}

	last := rec.bars[len(rec.bars)-1]
	assert.Equal(t, base+5*60_000, last.Profile.Bucket.Start)
	assert.True(t, last.Profile.Bucket.TotalVolume.Equal(decimal.NewFromInt(barProfileWindow)))
	assert.True(t, last.Profile.POC.Decimal.Equal(d("100")))
	assert.Equal(t, model.DominanceSellers, last.Profile.Dominance)
	assert.True(t, last.HighProfile.Equal(d("195")), last.HighProfile.String())
	assert.True(t, last.LowProfile.Equal(d("55")), last.LowProfile.String())

	// 重复推送的 K 线不改变窗口
	dup, err := bp.Process(ctx, bar(total-1))
	require.NoError(t, err)
	assert.True(t, dup.Profile.Bucket.TotalVolume.Equal(decimal.NewFromInt(barProfileWindow)))

	// 其他周期有独立的窗口
	other := bar(0)
	other.Interval = "5m"
	first, err := bp.Process(ctx, other)
	require.NoError(t, err)
	assert.True(t, first.Profile.Bucket.TotalVolume.Equal(d("1")))
	assert.True(t, first.HighProfile.Equal(d("200")))
}

func TestBarProcessor_LogsHistoryUntilReady(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := service.Logger
	service.Logger = zap.New(core)
	t.Cleanup(func() { service.Logger = prev })

	bp := NewBarProcessor(ta.NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5), profile.DefaultParams(), &recorder{})
	for i := range int64(2) {
		_, err := bp.Process(context.Background(), model.KLine{
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			OpenTime:  base + i*60_000,
			CloseTime: base + i*60_000 + 59_999,
			Open:      d("1"), High: d("2"), Low: d("1"), Close: d("1.5"),
			Volume: d("3"), TakerBuyBaseVolume: d("1"),
		})
		require.NoError(t, err)
	}

	entries := logs.FilterMessage("Volume stats not ready").All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].ContextMap()["History"])
	assert.Equal(t, int64(21), entries[1].ContextMap()["Required"])
}

func TestBarProcessor_RunSkipsMalformed(t *testing.T) {
	rec := &recorder{}
	bp := NewBarProcessor(ta.NewVolumeAnalyzer(zap.NewNop().Sugar(), 1.5), profile.DefaultParams(), rec)

	raw := make(chan model.RawKline, 2)
	raw <- model.RawKline{Symbol: "BTCUSDT", Interval: "1m", OpenTime: "1692144000000", CloseTime: "1692144059999",
		Open: "1", High: "2", Low: "3", Close: "1", Volume: "1", TakerBuyBaseVolume: "1"}
	raw <- model.RawKline{Symbol: "BTCUSDT", Interval: "1m", OpenTime: "1692144060000", CloseTime: "1692144119999",
		Open: "1", High: "2", Low: "1", Close: "1.5", Volume: "4", TakerBuyBaseVolume: "1"}
	close(raw)

	require.NoError(t, bp.Run(context.Background(), raw))
	require.Len(t, rec.bars, 1)
	assert.True(t, rec.bars[0].Footprint.Delta.Equal(d("-2")))
}

func TestParamsFromConfig(t *testing.T) {
	cfg := service.EngineConfig{
		BucketWidth:       15 * time.Minute,
		PriceIncrement:    0.25,
		ValueAreaFraction: 0.68,
		ValueAreaMethod:   "bounded",
		NodeMethod:        "ranked",
		HVNMultiplier:     2,
		LVNMultiplier:     0.5,
		TPOPeriod:         30 * time.Minute,
		SessionWidth:      24 * time.Hour,
		BatchSize:         10,
	}
	p, err := ParamsFromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, p.PriceIncrement.Equal(d("0.25")))
	assert.True(t, p.ValueAreaFraction.Equal(d("0.68")))
	assert.Equal(t, profile.ValueAreaBounded, p.ValueAreaMethod)
	assert.Equal(t, profile.NodeRanked, p.NodeMethod)

	cfg.ValueAreaMethod = "widest"
	_, err = ParamsFromConfig(cfg)
	assert.Error(t, err)
}
