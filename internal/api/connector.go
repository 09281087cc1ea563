package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// BarProvider 行情数据来源
// GetBars 返回 [now-lookback, now] 内已完成的 K 线，按时间升序；没有数据时返回 model.ErrDataUnavailable
type BarProvider interface {
	GetBars(ctx context.Context, symbol string, interval, lookback time.Duration) ([]model.Bar, error)
	LatestQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// AlpacaConfig 构造 AlpacaConnector 所需的参数
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	Feed      string // iex / sip
	Timeout   time.Duration
}

// AlpacaConnector 通过 Alpaca Market Data API 拉取 K 线和最新成交价
type AlpacaConnector struct {
	client *marketdata.Client
	feed   marketdata.Feed
	logger *zap.Logger
	now    func() time.Time
}

// NewAlpacaConnector 初始化行情连接器
func NewAlpacaConnector(cfg AlpacaConfig, logger *zap.Logger) *AlpacaConnector {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.SecretKey,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	return &AlpacaConnector{
		client: client,
		feed:   marketdata.Feed(cfg.Feed),
		logger: logger,
		now:    time.Now,
	}
}

func (c *AlpacaConnector) GetBars(ctx context.Context, symbol string, interval, lookback time.Duration) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := TimeFrame(interval)
	if err != nil {
		return nil, err
	}

	end := c.now()
	raw, err := c.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      end.Add(-lookback),
		End:        end,
		Feed:       c.feed,
		Adjustment: marketdata.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s %s: %w", symbol, interval, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("alpaca bars %s %s: %w", symbol, interval, model.ErrDataUnavailable)
	}

	bars := make([]model.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, model.Bar{
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
			VWAP:      b.VWAP,
		})
	}
	return bars, nil
}

func (c *AlpacaConnector) LatestQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, err
	}
	trade, err := c.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: c.feed})
	if err != nil {
		return model.Quote{}, fmt.Errorf("alpaca latest trade %s: %w", symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return model.Quote{}, fmt.Errorf("alpaca latest trade %s: %w", symbol, model.ErrDataUnavailable)
	}
	return model.Quote{Symbol: symbol, Price: trade.Price, Timestamp: trade.Timestamp}, nil
}

// TimeFrame 把周期换算成 Alpaca 的 TimeFrame，只支持整分钟、整小时、整天
func TimeFrame(d time.Duration) (marketdata.TimeFrame, error) {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day), nil
	case d >= time.Hour && d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour), nil
	case d >= time.Minute && d%time.Minute == 0:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported bar interval %s", d)
}
