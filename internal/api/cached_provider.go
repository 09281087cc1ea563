package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"intraday-trader/internal/cache"
	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

// CachedProvider 在上游数据源前面加一层缓存和令牌桶限流
// 同一周期内分类器和扫描器会重复请求相同的 5 分钟 K 线
type CachedProvider struct {
	upstream BarProvider
	cache    cache.Service
	ttl      time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewCachedProvider ttl 为 0 时不缓存，只限流
func NewCachedProvider(upstream BarProvider, c cache.Service, ttl time.Duration, rps float64, burst int, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		cache:    c,
		ttl:      ttl,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger,
	}
}

func (p *CachedProvider) GetBars(ctx context.Context, symbol string, interval, lookback time.Duration) ([]model.Bar, error) {
	key := fmt.Sprintf("bars:%s:%s:%s", symbol, service.FormatInterval(interval), service.FormatInterval(lookback))

	if p.cache != nil && p.ttl > 0 {
		var bars []model.Bar
		err := p.cache.Get(ctx, key, &bars)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("Bar cache read failed", zap.String("Key", key), zap.Error(err))
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bars, err := p.upstream.GetBars(ctx, symbol, interval, lookback)
	if err != nil {
		return nil, err
	}

	if p.cache != nil && p.ttl > 0 {
		if err := p.cache.Set(ctx, key, bars, p.ttl); err != nil {
			p.logger.Warn("Bar cache write failed", zap.String("Key", key), zap.Error(err))
		}
	}
	return bars, nil
}

// LatestQuote 不缓存，退出判断需要最新价格
func (p *CachedProvider) LatestQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return model.Quote{}, err
	}
	return p.upstream.LatestQuote(ctx, symbol)
}
