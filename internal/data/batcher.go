package data

// Batcher 把逐条数据攒成固定大小的批次，满批时返回
type Batcher[T any] struct {
	size  int
	items []T
}

func NewBatcher[T any](size int) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &Batcher[T]{size: size, items: make([]T, 0, size)}
}

// Add 追加一条数据；达到批大小时返回整批并清空缓冲
func (b *Batcher[T]) Add(item T) ([]T, bool) {
	b.items = append(b.items, item)
	if len(b.items) < b.size {
		return nil, false
	}
	return b.Drain(), true
}

// Drain 取出缓冲中剩余的数据
func (b *Batcher[T]) Drain() []T {
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = make([]T, 0, b.size)
	return out
}

func (b *Batcher[T]) Len() int {
	return len(b.items)
}
