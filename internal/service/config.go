package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"intraday-trader/internal/model"
)

// Config 是整个进程的配置，由 main 加载后显式传给各组件
type Config struct {
	Mode     string   `default:"paper" validate:"oneof=paper live"`
	Universe []string `validate:"min=1,dive,required"`

	Log         LogConfig
	Alpaca      AlpacaConfig
	Data        DataConfig
	Regime      RegimeConfig
	Indicators  IndicatorConfig
	Scoring     ScoringConfig
	Risk        RiskConfig
	Engine      EngineConfig
	MarketHours MarketHoursConfig
	Simulator   SimulatorConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	Server      ServerConfig
}

type LogConfig struct {
	Level string `default:"info" validate:"oneof=debug info warn error"`
}

// AlpacaConfig 券商连接信息，密钥通常来自 .env
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string `default:"https://paper-api.alpaca.markets"`
	Feed      string `default:"iex" validate:"oneof=iex sip"`
}

// DataConfig 行情拉取参数
type DataConfig struct {
	FineInterval      time.Duration `default:"1m" validate:"gt=0"`
	CoarseInterval    time.Duration `default:"5m" validate:"gt=0"`
	FineLookback      time.Duration `default:"60m" validate:"gt=0"`
	CoarseLookback    time.Duration `default:"120h" validate:"gt=0"`
	MaxQuoteAge       time.Duration `default:"3m" validate:"gt=0"`
	MaxConcurrency    int           `default:"8" validate:"gte=1"`
	RequestsPerSecond float64       `default:"10" validate:"gt=0"`
	Burst             int           `default:"5" validate:"gte=1"`
	CacheTTL          time.Duration `default:"20s"`
	RequestTimeout    time.Duration `default:"10s" validate:"gt=0"`
}

// RegimeLevelConfig 波动率分档表中的一行
type RegimeLevelConfig struct {
	Level               model.RegimeLevel `validate:"oneof=low normal high extreme"`
	MaxVolatility       float64           `validate:"gt=0"` // 最后一档作为兜底，不参与比较
	ConfidenceThreshold float64           `validate:"gt=0,lte=1"`
	StopLossPct         float64           `validate:"gt=0"`
	TakeProfitPct       float64           `validate:"gt=0"`
}

type RegimeConfig struct {
	RefreshInterval      time.Duration       `default:"5m" validate:"gt=0"`
	SampleSize           int                 `default:"10" validate:"gte=1"`
	MinSampleSymbols     int                 `default:"3" validate:"gte=1"`
	MinBars              int                 `default:"5" validate:"gte=2"`
	AnnualizationPeriods float64             `default:"12" validate:"gt=0"`
	Levels               []RegimeLevelConfig `validate:"dive"`

	FallbackThreshold     float64 `default:"0.45"`
	FallbackStopLossPct   float64 `default:"0.005"`
	FallbackTakeProfitPct float64 `default:"0.008"`
	FallbackVolatility    float64 `default:"0.02"`
	FallbackChange        float64 `default:"0.01"`
}

type IndicatorConfig struct {
	RSIPeriod      int     `default:"14" validate:"gte=2"`
	MACDFast       int     `default:"12" validate:"gte=2"`
	MACDSlow       int     `default:"26" validate:"gtfield=MACDFast"`
	MACDSignal     int     `default:"9" validate:"gte=1"`
	BollingerLen   int     `default:"20" validate:"gte=2"`
	BollingerWidth float64 `default:"2" validate:"gt=0"`
	VolumeWindow   int     `default:"20" validate:"gte=2"`
	RollingWindow  int     `default:"10" validate:"gte=1"`
}

// ScoringConfig 规则阈值和权重，默认值来自历史版本的经验参数
type ScoringConfig struct {
	DominanceMargin float64 `default:"1.0" validate:"gte=1"`
	MaxRationale    int     `default:"3" validate:"gte=1"`

	MomentumThreshold float64 `default:"0.001"`
	MomentumWeight    float64 `default:"0.30"`

	RSIExtremeLow     float64 `default:"35"`
	RSIExtremeHigh    float64 `default:"65"`
	RSIModerateLow    float64 `default:"45"`
	RSIModerateHigh   float64 `default:"55"`
	RSIExtremeWeight  float64 `default:"0.25"`
	RSIModerateWeight float64 `default:"0.15"`

	MACDWeight float64 `default:"0.15"`

	BreakoutWeight float64 `default:"0.35"`

	VolumeRatioThreshold float64 `default:"2.0"`
	VolumeMoveThreshold  float64 `default:"0.0005"`
	VolumeWeight         float64 `default:"0.20"`

	MeanReversionDeviation float64 `default:"0.01"`
	MeanReversionWeight    float64 `default:"0.20"`

	BollingerWeight float64 `default:"0.20"`
}

// RiskConfig 仓位和风控参数
type RiskConfig struct {
	NotionalBudget       float64       `default:"10000" validate:"gt=0"`
	PositionSizeFraction float64       `default:"0.1" validate:"gt=0,lte=1"`
	MaxPositions         int           `default:"5" validate:"gte=1"`
	Cooldown             time.Duration `default:"30s"`
	MaxHoldDuration      time.Duration `default:"15m" validate:"gt=0"`
}

type EngineConfig struct {
	CycleInterval  time.Duration `default:"30s" validate:"gt=0"`
	UnhealthyAfter int           `default:"3" validate:"gte=1"`
	Reconcile      bool
	EventBuffer    int `default:"256" validate:"gte=1"`
}

// MarketHoursConfig 只在常规交易时段扫描
type MarketHoursConfig struct {
	Enabled  bool
	Timezone string `default:"America/New_York"`
	Open     string `default:"09:30"`
	Close    string `default:"16:00"`
}

type SimulatorConfig struct {
	InitialCapital float64 `default:"100000" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled  bool
	Addr     string `default:"localhost:6379"`
	Password string
	DB       int
	Prefix   string `default:"intraday"`
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string `default:"intraday.events"`
}

type PostgresConfig struct {
	Enabled  bool
	DSN      string
	MaxConns int32 `default:"4"`
}

type ServerConfig struct {
	Addr string `default:":8080"`
}

// DefaultRegimeLevels 默认的波动率分档
func DefaultRegimeLevels() []RegimeLevelConfig {
	return []RegimeLevelConfig{
		{Level: model.RegimeLow, MaxVolatility: 0.015, ConfidenceThreshold: 0.35, StopLossPct: 0.003, TakeProfitPct: 0.005},
		{Level: model.RegimeNormal, MaxVolatility: 0.03, ConfidenceThreshold: 0.45, StopLossPct: 0.005, TakeProfitPct: 0.008},
		{Level: model.RegimeHigh, MaxVolatility: 0.05, ConfidenceThreshold: 0.55, StopLossPct: 0.008, TakeProfitPct: 0.012},
		{Level: model.RegimeExtreme, MaxVolatility: 1, ConfidenceThreshold: 0.65, StopLossPct: 0.012, TakeProfitPct: 0.018},
	}
}

var validate = validator.New()

// LoadConfig 读取 configPath 目录下的 config.yaml，填充默认值并校验
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found in %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize 填充默认值、环境变量中的券商密钥，然后校验
func Finalize(cfg *Config) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if len(cfg.Regime.Levels) == 0 {
		cfg.Regime.Levels = DefaultRegimeLevels()
	}
	if cfg.Alpaca.APIKey == "" {
		cfg.Alpaca.APIKey = os.Getenv("ALPACA_API_KEY")
	}
	if cfg.Alpaca.SecretKey == "" {
		cfg.Alpaca.SecretKey = os.Getenv("ALPACA_SECRET_KEY")
	}
	if url := os.Getenv("ALPACA_BASE_URL"); url != "" {
		cfg.Alpaca.BaseURL = url
	}
	return cfg.Validate()
}

// Validate 结构体标签校验加上跨字段规则
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Data.CoarseInterval <= c.Data.FineInterval {
		return fmt.Errorf("invalid config: coarse interval %s must exceed fine interval %s", c.Data.CoarseInterval, c.Data.FineInterval)
	}
	if c.Regime.MinSampleSymbols > c.Regime.SampleSize {
		return fmt.Errorf("invalid config: minSampleSymbols %d exceeds sampleSize %d", c.Regime.MinSampleSymbols, c.Regime.SampleSize)
	}
	if c.Mode == "live" && (c.Alpaca.APIKey == "" || c.Alpaca.SecretKey == "") {
		return errors.New("invalid config: live mode requires ALPACA_API_KEY and ALPACA_SECRET_KEY")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid config: kafka enabled without brokers")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return errors.New("invalid config: postgres enabled without dsn")
	}
	return ValidateRegimeLevels(c.Regime.Levels)
}

// ValidateRegimeLevels 分档必须按波动率严格递增，阈值、止损、止盈不得递减
func ValidateRegimeLevels(levels []RegimeLevelConfig) error {
	if len(levels) == 0 {
		return errors.New("invalid config: regime levels empty")
	}
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1], levels[i]
		if cur.MaxVolatility <= prev.MaxVolatility {
			return fmt.Errorf("invalid config: regime %s breakpoint %.4f not above %s", cur.Level, cur.MaxVolatility, prev.Level)
		}
		if cur.ConfidenceThreshold < prev.ConfidenceThreshold ||
			cur.StopLossPct < prev.StopLossPct ||
			cur.TakeProfitPct < prev.TakeProfitPct {
			return fmt.Errorf("invalid config: regime %s parameters decrease relative to %s", cur.Level, prev.Level)
		}
	}
	return nil
}
