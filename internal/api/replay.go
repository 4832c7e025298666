package api

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"footprint-engine/internal/model"
	"footprint-engine/internal/service"

	"go.uber.org/zap"
)

// Binance data.binance.vision 文件列序
// aggTrades: agg_trade_id,price,quantity,first_trade_id,last_trade_id,transact_time,is_buyer_maker
// klines: open_time,open,high,low,close,volume,close_time,quote_volume,count,taker_buy_volume,taker_buy_quote_volume,ignore
const (
	aggTradeColumns = 7
	klineColumns    = 11
)

// FileMeta 从文件名解析交易对和周期，例如 BTCUSDT-aggTrades-2023-08-16.zip / BTCUSDT-1m-2023-08.csv
type FileMeta struct {
	Symbol   string
	Interval string // aggTrades 文件为空
}

func ParseFileName(path string) FileMeta {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(name, "-")
	meta := FileMeta{Symbol: strings.ToUpper(parts[0])}
	if len(parts) > 1 && parts[1] != "aggTrades" && parts[1] != "trades" {
		meta.Interval = parts[1]
	}
	return meta
}

// ReplayCSV 按文件顺序读取 aggTrades CSV (或包含 CSV 的 zip) 并发送原始成交。
// symbol 为空时从文件名解析。返回发送的行数。
func ReplayCSV(ctx context.Context, path, symbol string, out chan<- model.RawTrade) (int, error) {
	if symbol == "" {
		symbol = ParseFileName(path).Symbol
	}
	return replayRows(ctx, path, aggTradeColumns, func(row []string) error {
		raw := model.RawTrade{
			Symbol:       symbol,
			AggTradeID:   row[0],
			Price:        row[1],
			Quantity:     row[2],
			FirstTradeID: row[3],
			LastTradeID:  row[4],
			Timestamp:    row[5],
			IsBuyerMaker: row[6],
		}
		select {
		case out <- raw:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ReplayKlineCSV 读取 K 线 CSV，周期和交易对为空时从文件名解析
func ReplayKlineCSV(ctx context.Context, path, symbol, interval string, out chan<- model.RawKline) (int, error) {
	meta := ParseFileName(path)
	if symbol == "" {
		symbol = meta.Symbol
	}
	if interval == "" {
		interval = meta.Interval
	}
	return replayRows(ctx, path, klineColumns, func(row []string) error {
		raw := model.RawKline{
			Symbol:              symbol,
			Interval:            interval,
			OpenTime:            row[0],
			Open:                row[1],
			High:                row[2],
			Low:                 row[3],
			Close:               row[4],
			Volume:              row[5],
			CloseTime:           row[6],
			QuoteAssetVolume:    row[7],
			Trades:              row[8],
			TakerBuyBaseVolume:  row[9],
			TakerBuyQuoteVolume: row[10],
		}
		select {
		case out <- raw:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// IsKlineFile 文件名带周期的视为 K 线文件
func IsKlineFile(path string) bool {
	return ParseFileName(path).Interval != ""
}

func replayRows(ctx context.Context, path string, minColumns int, emit func([]string) error) (int, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return replayZip(ctx, path, minColumns, emit)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return readRows(ctx, f, path, minColumns, emit)
}

func replayZip(ctx context.Context, path string, minColumns int, emit func([]string) error) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open replay zip: %w", err)
	}
	defer zr.Close()

	total := 0
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return total, fmt.Errorf("open %s in %s: %w", f.Name, path, err)
		}
		n, err := readRows(ctx, rc, path+":"+f.Name, minColumns, emit)
		rc.Close()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readRows 跳过可选的表头和列数不足的行，逐行回调
func readRows(ctx context.Context, r io.Reader, name string, minColumns int, emit func([]string) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	sent, line := 0, 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("read %s: %w", name, err)
		}
		line++

		if line == 1 && isHeader(row) {
			continue
		}
		if len(row) < minColumns {
			service.Logger.Warn("Skipping short CSV row",
				zap.String("File", name), zap.Int("Line", line), zap.Int("Columns", len(row)))
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := emit(row); err != nil {
			return sent, err
		}
		sent++
	}

	service.Logger.Info("Replay file finished", zap.String("File", name), zap.Int("Rows", sent))
	return sent, nil
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, err := service.StringToInt64(strings.TrimSpace(row[0]))
	return err != nil
}
