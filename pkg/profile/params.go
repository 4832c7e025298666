// Package profile 实现成交量分布 / Footprint / TPO 的聚合算法。
// 所有推导都是对已关闭窗口的纯函数，不持有跨窗口状态。
package profile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValueAreaMethod 价值区域的选取方式
type ValueAreaMethod string

const (
	// ValueAreaGreedy 按成交量降序贪心累加，直到越过阈值 (包含越过阈值的那一档)
	ValueAreaGreedy ValueAreaMethod = "greedy"
	// ValueAreaBounded 只保留累计成交量不超过阈值的档位，没有则退化为 POC
	ValueAreaBounded ValueAreaMethod = "bounded"
)

// NodeMethod HVN/LVN 的判定方式
type NodeMethod string

const (
	// NodeThreshold 与非空档位平均成交量的倍数比较
	NodeThreshold NodeMethod = "threshold"
	// NodeRanked 成交量排名前 / 后 10% 的档位
	NodeRanked NodeMethod = "ranked"
)

// Params 一次处理运行内不可变的参数，显式传入每个组件
type Params struct {
	BucketWidth       time.Duration
	PriceIncrement    decimal.Decimal // 0 表示按精确价格分档
	ValueAreaFraction decimal.Decimal
	ValueAreaMethod   ValueAreaMethod
	NodeMethod        NodeMethod
	HVNMultiplier     decimal.Decimal
	LVNMultiplier     decimal.Decimal
	TPOPeriod         time.Duration
	SessionWidth      time.Duration
}

// DefaultParams 默认参数: 30 分钟窗口, 0.5 价格步长, 70% 价值区域
func DefaultParams() Params {
	return Params{
		BucketWidth:       30 * time.Minute,
		PriceIncrement:    decimal.RequireFromString("0.5"),
		ValueAreaFraction: decimal.RequireFromString("0.7"),
		ValueAreaMethod:   ValueAreaGreedy,
		NodeMethod:        NodeThreshold,
		HVNMultiplier:     decimal.RequireFromString("1.5"),
		LVNMultiplier:     decimal.RequireFromString("0.5"),
		TPOPeriod:         30 * time.Minute,
		SessionWidth:      24 * time.Hour,
	}
}

// Validate 检查参数组合是否有效
func (p Params) Validate() error {
	if p.BucketWidth <= 0 || p.BucketWidth%time.Millisecond != 0 {
		return fmt.Errorf("bucket width must be a positive whole number of milliseconds, got %s", p.BucketWidth)
	}
	if p.PriceIncrement.IsNegative() {
		return fmt.Errorf("price increment must not be negative, got %s", p.PriceIncrement)
	}
	if !p.ValueAreaFraction.IsPositive() || p.ValueAreaFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("value area fraction must be in (0, 1], got %s", p.ValueAreaFraction)
	}
	switch p.ValueAreaMethod {
	case ValueAreaGreedy, ValueAreaBounded:
	default:
		return fmt.Errorf("unknown value area method %q", p.ValueAreaMethod)
	}
	switch p.NodeMethod {
	case NodeThreshold, NodeRanked:
	default:
		return fmt.Errorf("unknown node method %q", p.NodeMethod)
	}
	if p.LVNMultiplier.IsNegative() || !p.HVNMultiplier.GreaterThan(p.LVNMultiplier) {
		return fmt.Errorf("multipliers must satisfy 0 <= lvn < hvn, got lvn=%s hvn=%s", p.LVNMultiplier, p.HVNMultiplier)
	}
	if p.TPOPeriod <= 0 || p.TPOPeriod%time.Millisecond != 0 {
		return fmt.Errorf("tpo period must be a positive whole number of milliseconds, got %s", p.TPOPeriod)
	}
	// 每个 session 都从字母 A 开始，session 宽度必须是子周期的整数倍
	if p.SessionWidth < p.TPOPeriod || p.SessionWidth%p.TPOPeriod != 0 {
		return fmt.Errorf("session width %s must be a whole multiple of the tpo period %s", p.SessionWidth, p.TPOPeriod)
	}
	return nil
}

// BucketWidthMillis 窗口宽度 (毫秒)
func (p Params) BucketWidthMillis() int64 {
	return p.BucketWidth.Milliseconds()
}
