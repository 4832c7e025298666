// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"Logging"`
	Engine  EngineConfig  `mapstructure:"Engine"`
	Feed    FeedConfig    `mapstructure:"Feed"`
	Output  OutputConfig  `mapstructure:"Output"`
	Server  ServerConfig  `mapstructure:"Server"`
}

type LoggingConfig struct {
	Level string `validate:"omitempty,oneof=debug info warn error"`
}

// EngineConfig 聚合引擎参数，运行期间不可变
type EngineConfig struct {
	BucketWidth       time.Duration `validate:"gt=0"`
	PriceIncrement    float64       `validate:"gte=0"`
	ValueAreaFraction float64       `validate:"gt=0,lte=1"`
	ValueAreaMethod   string        `validate:"oneof=greedy bounded"`
	NodeMethod        string        `validate:"oneof=threshold ranked"`
	HVNMultiplier     float64       `validate:"gtfield=LVNMultiplier"`
	LVNMultiplier     float64       `validate:"gte=0"`
	TPOPeriod         time.Duration `validate:"gt=0"`
	SessionWidth      time.Duration `validate:"gtefield=TPOPeriod"`
	BatchSize         int           `validate:"gt=0"` // 累计 N 笔成交后提交给引擎
}

// FeedConfig 行情输入: live 订阅 WebSocket，replay 回放 CSV 文件
type FeedConfig struct {
	Mode          string   `validate:"oneof=live replay"`
	WSURL         string   `validate:"required_if=Mode live"`
	Symbols       []string `validate:"required,min=1,dive,required"`
	KlineInterval string
	ReplayFiles   []string `validate:"required_if=Mode replay"`
}

type OutputConfig struct {
	Path string // JSON lines 输出文件，为空时只写日志
}

type ServerConfig struct {
	Addr string // /health 与 /metrics，为空时不启动
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Logging.Level", "info")
	v.SetDefault("Engine.BucketWidth", "30m")
	v.SetDefault("Engine.PriceIncrement", 0.5)
	v.SetDefault("Engine.ValueAreaFraction", 0.7)
	v.SetDefault("Engine.ValueAreaMethod", "greedy")
	v.SetDefault("Engine.NodeMethod", "threshold")
	v.SetDefault("Engine.HVNMultiplier", 1.5)
	v.SetDefault("Engine.LVNMultiplier", 0.5)
	v.SetDefault("Engine.TPOPeriod", "30m")
	v.SetDefault("Engine.SessionWidth", "24h")
	v.SetDefault("Engine.BatchSize", 100)
	v.SetDefault("Feed.Mode", "live")
	v.SetDefault("Feed.WSURL", "wss://fstream.binance.com/stream")
	v.SetDefault("Feed.KlineInterval", "1m")
}

// LoadConfig 读取、解析并校验配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // 文件名是 config
	v.SetConfigType("yaml")   // 文件类型是 yaml
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("FOOTPRINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found in %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// 将配置绑定到结构体 (viper 默认 decode hook 处理 "30m" 之类的 duration)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig 使用 validator 校验配置
func ValidateConfig(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if e := cfg.Engine; e.TPOPeriod > 0 && e.SessionWidth%e.TPOPeriod != 0 {
		return fmt.Errorf("invalid configuration: Engine.SessionWidth %s is not a multiple of Engine.TPOPeriod %s", e.SessionWidth, e.TPOPeriod)
	}
	if cfg.Feed.KlineInterval != "" {
		if _, err := ParseIntervalDuration(cfg.Feed.KlineInterval); err != nil {
			return fmt.Errorf("invalid configuration: Feed.KlineInterval: %w", err)
		}
	}
	return nil
}
