package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"footprint-engine/internal/api"
	"footprint-engine/internal/data"
	"footprint-engine/internal/model"
	"footprint-engine/internal/output"
	"footprint-engine/internal/server"
	"footprint-engine/internal/service"
	"footprint-engine/pkg/ta"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ingestFlushInterval = time.Second
	volumeSpikeRatio    = 1.5
	shutdownTimeout     = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := service.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	service.InitLogger(cfg.Logging.Level)
	runID := uuid.NewString()
	service.Logger = service.Logger.With(zap.String("RunID", runID))
	defer service.Logger.Sync()

	params, err := data.ParamsFromConfig(cfg.Engine)
	if err != nil {
		service.Logger.Fatal("Invalid engine parameters", zap.Error(err))
	}

	symbols := make([]string, 0, len(cfg.Feed.Symbols))
	for _, s := range cfg.Feed.Symbols {
		symbols = append(symbols, strings.ToUpper(s))
	}

	// 1. 结果输出: 日志 + 可选的 JSON lines 文件
	publishers := output.MultiPublisher{output.NewLogPublisher(service.Logger)}
	if cfg.Output.Path != "" {
		jsonPub, err := output.OpenJSONFile(cfg.Output.Path)
		if err != nil {
			service.Logger.Fatal("Failed to open output file", zap.Error(err))
		}
		defer jsonPub.Close()
		publishers = append(publishers, jsonPub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 聚合引擎: 每个交易对一个 worker
	engine := data.NewDataEngine(params, publishers, cfg.Engine.BatchSize)
	if err := engine.Register(symbols...); err != nil {
		service.Logger.Fatal("Failed to register symbols", zap.Error(err))
	}
	var errWG sync.WaitGroup
	errWG.Add(1)
	go func() {
		defer errWG.Done()
		for err := range engine.Errors() {
			service.Logger.Error("Engine error", zap.Error(err))
		}
	}()

	// 3. 运维接口
	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server.Addr, runID, symbols, engine)
		go func() {
			if err := srv.Run(ctx); err != nil {
				service.Logger.Error("Ops server failed", zap.Error(err))
			}
		}()
	}

	ingestor := data.NewIngestor(engine, cfg.Engine.BatchSize, ingestFlushInterval)
	bars := data.NewBarProcessor(ta.NewVolumeAnalyzer(service.Logger.Sugar(), volumeSpikeRatio), params, publishers)

	service.Logger.Info("Footprint engine started",
		zap.String("Mode", cfg.Feed.Mode),
		zap.Strings("Symbols", symbols),
		zap.Duration("BucketWidth", params.BucketWidth),
		zap.Stringer("PriceIncrement", params.PriceIncrement))

	// 4. 行情输入
	switch cfg.Feed.Mode {
	case "live":
		err = runLive(ctx, cfg, symbols, ingestor, bars)
	case "replay":
		err = runReplay(ctx, cfg.Feed.ReplayFiles, ingestor, bars)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		service.Logger.Error("Feed stopped with error", zap.Error(err))
	}

	// 5. 停机: 关闭所有打开的窗口并发布
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := engine.Flush(flushCtx, time.Now().UnixMilli()); err != nil {
		service.Logger.Error("Final flush failed", zap.Error(err))
	}
	engine.Close()
	errWG.Wait()

	for _, s := range symbols {
		if err := engine.Suspect(s); err != nil {
			service.Logger.Warn("Results for symbol are suspect", zap.String("Symbol", s), zap.Error(err))
		}
	}
	service.Logger.Info("Footprint engine stopped")
}

// runLive 订阅 Binance 组合流直到收到退出信号
func runLive(ctx context.Context, cfg *service.Config, symbols []string, ingestor *data.Ingestor, bars *data.BarProcessor) error {
	connector := api.NewConnector(cfg.Feed.WSURL, symbols, cfg.Feed.KlineInterval)
	go func() {
		if err := connector.Run(ctx); err != nil {
			service.Logger.Error("Connector failed", zap.Error(err))
		}
	}()
	go func() {
		if err := bars.Run(ctx, connector.GetKlineChannel()); err != nil && !errors.Is(err, context.Canceled) {
			service.Logger.Error("Bar processor stopped", zap.Error(err))
		}
	}()
	return ingestor.Run(ctx, connector.GetTradeChannel())
}

// runReplay 依次回放文件，成交文件进入聚合引擎，K 线文件进入 K 线分析
func runReplay(ctx context.Context, files []string, ingestor *data.Ingestor, bars *data.BarProcessor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trades := make(chan model.RawTrade, 2048)
	klines := make(chan model.RawKline, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bars.Run(ctx, klines); err != nil && !errors.Is(err, context.Canceled) {
			service.Logger.Error("Bar processor stopped", zap.Error(err))
		}
	}()

	go func() {
		defer close(trades)
		defer close(klines)
		for _, path := range files {
			var err error
			if api.IsKlineFile(path) {
				_, err = api.ReplayKlineCSV(ctx, path, "", "", klines)
			} else {
				_, err = api.ReplayCSV(ctx, path, "", trades)
			}
			if err != nil {
				service.Logger.Error("Replay failed", zap.String("File", path), zap.Error(err))
				return
			}
		}
	}()

	err := ingestor.Run(ctx, trades)
	if err != nil {
		// 停止回放，避免 K 线分析一直等待
		cancel()
	}
	wg.Wait()
	return err
}
