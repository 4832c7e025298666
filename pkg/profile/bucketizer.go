package profile

import (
	"fmt"
	"iter"

	"footprint-engine/internal/model"
)

// BucketGroup 一个时间窗口 [Start, End) 内按时间顺序排列的成交
type BucketGroup struct {
	Start  int64
	End    int64
	Events []model.TradeEvent
}

// BucketStart 将时间戳对齐到窗口起点: floor(ts / width) * width
func BucketStart(ts, width int64) int64 {
	start := ts / width * width
	if ts < 0 && start != ts {
		start -= width
	}
	return start
}

// Bucketize 把同一交易对的有序成交切分为固定宽度、互不重叠的窗口。
// 返回的序列是惰性的，可以重复遍历；遇到时间戳倒序时产出 SequencingError 并停止。
func Bucketize(events []model.TradeEvent, width int64) iter.Seq2[BucketGroup, error] {
	return func(yield func(BucketGroup, error) bool) {
		if width <= 0 {
			yield(BucketGroup{}, fmt.Errorf("bucket width must be positive, got %d", width))
			return
		}
		if len(events) == 0 {
			return
		}

		symbol := events[0].Symbol
		current := newGroup(events[0].Timestamp, width)
		begin := 0
		last := events[0].Timestamp

		for i := 1; i < len(events); i++ {
			ev := events[i]
			if ev.Symbol != symbol {
				yield(BucketGroup{}, fmt.Errorf("bucketize expects a single symbol, got %s after %s", ev.Symbol, symbol))
				return
			}
			if ev.Timestamp < last {
				yield(BucketGroup{}, &model.SequencingError{
					Symbol:        symbol,
					Timestamp:     ev.Timestamp,
					BucketStart:   current.Start,
					LastTimestamp: last,
				})
				return
			}
			last = ev.Timestamp

			if ev.Timestamp < current.End {
				continue
			}

			// 窗口关闭，切片限制容量防止调用方 append 覆盖后续数据
			current.Events = events[begin:i:i]
			if !yield(current, nil) {
				return
			}
			current = newGroup(ev.Timestamp, width)
			begin = i
		}

		current.Events = events[begin:len(events):len(events)]
		yield(current, nil)
	}
}

func newGroup(ts, width int64) BucketGroup {
	start := BucketStart(ts, width)
	return BucketGroup{Start: start, End: start + width}
}
