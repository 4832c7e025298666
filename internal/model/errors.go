package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedTrade 原始成交记录缺少字段或字段无法解析
	ErrMalformedTrade = errors.New("malformed trade")
	// ErrSequencing 同一交易对内出现时间戳倒序
	ErrSequencing = errors.New("out-of-order trade")
)

// MalformedTradeError 拒绝单条记录，调用方应跳过并继续处理其他记录
type MalformedTradeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedTradeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed trade: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed trade: field %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedTradeError) Is(target error) bool {
	return target == ErrMalformedTrade
}

// SequencingError 时间戳早于当前窗口起点 (或早于上一笔成交)
// 该交易对本次运行的结果应视为可疑，不做自动修正
type SequencingError struct {
	Symbol        string
	Timestamp     int64
	BucketStart   int64
	LastTimestamp int64
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("out-of-order trade for %s: ts=%d precedes bucket start %d (last ts %d)",
		e.Symbol, e.Timestamp, e.BucketStart, e.LastTimestamp)
}

func (e *SequencingError) Is(target error) bool {
	return target == ErrSequencing
}
