package data

import (
	"fmt"

	"footprint-engine/internal/service"
	"footprint-engine/pkg/profile"

	"github.com/shopspring/decimal"
)

// ParamsFromConfig 把配置转换为不可变的引擎参数 (配置进入算法层的唯一入口)
func ParamsFromConfig(cfg service.EngineConfig) (profile.Params, error) {
	p := profile.Params{
		BucketWidth:       cfg.BucketWidth,
		PriceIncrement:    decimal.NewFromFloat(cfg.PriceIncrement),
		ValueAreaFraction: decimal.NewFromFloat(cfg.ValueAreaFraction),
		ValueAreaMethod:   profile.ValueAreaMethod(cfg.ValueAreaMethod),
		NodeMethod:        profile.NodeMethod(cfg.NodeMethod),
		HVNMultiplier:     decimal.NewFromFloat(cfg.HVNMultiplier),
		LVNMultiplier:     decimal.NewFromFloat(cfg.LVNMultiplier),
		TPOPeriod:         cfg.TPOPeriod,
		SessionWidth:      cfg.SessionWidth,
	}
	if err := p.Validate(); err != nil {
		return profile.Params{}, fmt.Errorf("engine params: %w", err)
	}
	return p, nil
}
