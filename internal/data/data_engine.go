package data

import (
	"context"
	"errors"
	"sync"

	"footprint-engine/internal/model"
	"footprint-engine/internal/output"
	"footprint-engine/internal/service"
	"footprint-engine/pkg/profile"

	"go.uber.org/zap"
)

// ErrEngineClosed Close 之后再提交数据
var ErrEngineClosed = errors.New("data engine closed")

// workItem 发给单个交易对 worker 的工作单元
type workItem struct {
	events  []model.TradeEvent
	flushAt int64
	done    chan error // 非 nil 表示这是一次 Flush
}

// symbolWorker 每个交易对一个 goroutine，保证同一交易对内按到达顺序处理
type symbolWorker struct {
	agg    *SymbolAggregator
	inChan chan workItem
}

// DataEngine 接收标准化后的成交批次，按交易对分发给各自的聚合器
type DataEngine struct {
	mu        sync.Mutex
	sendMu    sync.RWMutex // 发送期间持读锁，Close 持写锁后才关闭通道
	params    profile.Params
	publisher output.Publisher
	workers   map[string]*symbolWorker
	errChan   chan error
	wg        sync.WaitGroup
	closed    bool
	queueSize int
}

// NewDataEngine 创建引擎；queueSize 是每个交易对输入通道的缓冲大小
func NewDataEngine(params profile.Params, publisher output.Publisher, queueSize int) *DataEngine {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &DataEngine{
		params:    params,
		publisher: publisher,
		workers:   make(map[string]*symbolWorker),
		errChan:   make(chan error, 100),
		queueSize: queueSize,
	}
}

// Errors 返回处理过程中产生的异步错误 (序列错误、发布失败)
func (de *DataEngine) Errors() <-chan error {
	return de.errChan
}

// Submit 把一批成交按交易对拆分后交给对应的 worker。
// 同一交易对内的相对顺序保持不变；通道满时阻塞直到 ctx 结束，不丢弃成交。
func (de *DataEngine) Submit(ctx context.Context, batch []model.TradeEvent) error {
	if len(batch) == 0 {
		return nil
	}
	batchSize.Observe(float64(len(batch)))

	de.sendMu.RLock()
	defer de.sendMu.RUnlock()

	grouped := make(map[string][]model.TradeEvent)
	var order []string
	for _, ev := range batch {
		if _, ok := grouped[ev.Symbol]; !ok {
			order = append(order, ev.Symbol)
		}
		grouped[ev.Symbol] = append(grouped[ev.Symbol], ev)
	}

	for _, symbol := range order {
		w, err := de.worker(symbol)
		if err != nil {
			return err
		}
		select {
		case w.inChan <- workItem{events: grouped[symbol]}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush 关闭所有交易对当前打开的窗口并等待发布完成。
// at 用于确定没有任何成交的交易对的空窗口位置。
func (de *DataEngine) Flush(ctx context.Context, at int64) error {
	de.sendMu.RLock()
	defer de.sendMu.RUnlock()

	de.mu.Lock()
	if de.closed {
		de.mu.Unlock()
		return ErrEngineClosed
	}
	workers := make([]*symbolWorker, 0, len(de.workers))
	for _, w := range de.workers {
		workers = append(workers, w)
	}
	de.mu.Unlock()

	var errs []error
	for _, w := range workers {
		done := make(chan error, 1)
		select {
		case w.inChan <- workItem{flushAt: at, done: done}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-done:
			errs = append(errs, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Register 预先为交易对创建 worker，使其在没有成交时 Flush 也能产出空报告
func (de *DataEngine) Register(symbols ...string) error {
	for _, s := range symbols {
		if _, err := de.worker(s); err != nil {
			return err
		}
	}
	return nil
}

// Suspect 返回交易对被标记为可疑的原因，nil 表示正常
func (de *DataEngine) Suspect(symbol string) error {
	de.mu.Lock()
	w, ok := de.workers[symbol]
	de.mu.Unlock()
	if !ok {
		return nil
	}
	return w.agg.Suspect()
}

// Close 停止所有 worker 并等待退出。不会自动 Flush。
func (de *DataEngine) Close() {
	de.sendMu.Lock()
	de.mu.Lock()
	if de.closed {
		de.mu.Unlock()
		de.sendMu.Unlock()
		return
	}
	de.closed = true
	for _, w := range de.workers {
		close(w.inChan)
	}
	de.mu.Unlock()
	de.sendMu.Unlock()

	de.wg.Wait()
	close(de.errChan)
	service.Logger.Info("Data Engine stopped")
}

func (de *DataEngine) worker(symbol string) (*symbolWorker, error) {
	de.mu.Lock()
	defer de.mu.Unlock()

	if de.closed {
		return nil, ErrEngineClosed
	}
	if w, ok := de.workers[symbol]; ok {
		return w, nil
	}

	w := &symbolWorker{
		agg:    NewSymbolAggregator(symbol, de.params, de.publisher, service.Logger),
		inChan: make(chan workItem, de.queueSize),
	}
	de.workers[symbol] = w
	de.wg.Add(1)
	go de.run(w)
	return w, nil
}

// run 是单个交易对 worker 的主循环
func (de *DataEngine) run(w *symbolWorker) {
	defer de.wg.Done()
	service.Logger.Info("Symbol aggregator started", zap.String("Symbol", w.agg.Symbol))

	// worker 内部不受调用方 ctx 约束，发布使用后台 context
	ctx := context.Background()
	for item := range w.inChan {
		if item.done != nil {
			item.done <- w.agg.Flush(ctx, item.flushAt)
			continue
		}
		for _, ev := range item.events {
			if err := w.agg.Apply(ctx, ev); err != nil {
				if errors.Is(err, ErrSymbolSuspect) {
					// 可疑交易对的后续成交只计数，不重复上报
					continue
				}
				de.report(err)
			}
		}
	}

	service.Logger.Info("Symbol aggregator stopped", zap.String("Symbol", w.agg.Symbol))
}

// report 非阻塞地上报错误，通道满时只记录日志
func (de *DataEngine) report(err error) {
	select {
	case de.errChan <- err:
	default:
		service.Logger.Warn("Engine error channel full! Dropping error.", zap.Error(err))
	}
}
