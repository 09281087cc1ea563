package strategy

import (
	"fmt"
	"math"

	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

// Vote 单条规则对某个方向的加分
type Vote struct {
	Direction model.Direction
	Weight    float64
	Tag       string
}

// Rule 规则就是一个函数：指标缺失或条件不满足时返回 false，不投票
type Rule struct {
	Name     string
	Evaluate func(s *model.IndicatorSnapshot) (Vote, bool)
}

// DefaultRules 按评估顺序排列的默认规则集，顺序决定 rationale 中标签的先后
func DefaultRules(cfg service.ScoringConfig) []Rule {
	return []Rule{
		{Name: "momentum", Evaluate: momentumRule(cfg)},
		{Name: "rsi", Evaluate: rsiRule(cfg)},
		{Name: "macd", Evaluate: macdRule(cfg)},
		{Name: "breakout", Evaluate: breakoutRule(cfg)},
		{Name: "volume", Evaluate: volumeRule(cfg)},
		{Name: "mean_reversion", Evaluate: meanReversionRule(cfg)},
		{Name: "bollinger", Evaluate: bollingerRule(cfg)},
	}
}

func long(w float64, tag string) (Vote, bool) {
	return Vote{Direction: model.DirLong, Weight: w, Tag: tag}, true
}

func short(w float64, tag string) (Vote, bool) {
	return Vote{Direction: model.DirShort, Weight: w, Tag: tag}, true
}

func momentumRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.Return1 == nil {
			return Vote{}, false
		}
		switch r := *s.Return1; {
		case r > cfg.MomentumThreshold:
			return long(cfg.MomentumWeight, "MOM+")
		case r < -cfg.MomentumThreshold:
			return short(cfg.MomentumWeight, "MOM-")
		}
		return Vote{}, false
	}
}

// rsiRule 极值档优先于温和档，只投一票
func rsiRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	extremeLow := fmt.Sprintf("RSI<%g", cfg.RSIExtremeLow)
	extremeHigh := fmt.Sprintf("RSI>%g", cfg.RSIExtremeHigh)
	moderateLow := fmt.Sprintf("RSI<%g", cfg.RSIModerateLow)
	moderateHigh := fmt.Sprintf("RSI>%g", cfg.RSIModerateHigh)
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.RSI == nil {
			return Vote{}, false
		}
		switch rsi := *s.RSI; {
		case rsi < cfg.RSIExtremeLow:
			return long(cfg.RSIExtremeWeight, extremeLow)
		case rsi > cfg.RSIExtremeHigh:
			return short(cfg.RSIExtremeWeight, extremeHigh)
		case rsi < cfg.RSIModerateLow:
			return long(cfg.RSIModerateWeight, moderateLow)
		case rsi > cfg.RSIModerateHigh:
			return short(cfg.RSIModerateWeight, moderateHigh)
		}
		return Vote{}, false
	}
}

func macdRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.MACDHist == nil {
			return Vote{}, false
		}
		switch h := *s.MACDHist; {
		case h > 0:
			return long(cfg.MACDWeight, "MACD+")
		case h < 0:
			return short(cfg.MACDWeight, "MACD-")
		}
		return Vote{}, false
	}
}

func breakoutRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.RollingHigh != nil && s.Price > *s.RollingHigh {
			return long(cfg.BreakoutWeight, "HH")
		}
		if s.RollingLow != nil && s.Price < *s.RollingLow {
			return short(cfg.BreakoutWeight, "LL")
		}
		return Vote{}, false
	}
}

// volumeRule 放量时跟随当根 K 线的方向
func volumeRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.VolumeRatio == nil || s.Return1 == nil {
			return Vote{}, false
		}
		r := *s.Return1
		if *s.VolumeRatio <= cfg.VolumeRatioThreshold || math.Abs(r) <= cfg.VolumeMoveThreshold {
			return Vote{}, false
		}
		if r > 0 {
			return long(cfg.VolumeWeight, "VOL+")
		}
		return short(cfg.VolumeWeight, "VOL-")
	}
}

func meanReversionRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.SMA == nil || *s.SMA <= 0 {
			return Vote{}, false
		}
		switch dev := (s.Price - *s.SMA) / *s.SMA; {
		case dev < -cfg.MeanReversionDeviation:
			return long(cfg.MeanReversionWeight, "MR-")
		case dev > cfg.MeanReversionDeviation:
			return short(cfg.MeanReversionWeight, "MR+")
		}
		return Vote{}, false
	}
}

func bollingerRule(cfg service.ScoringConfig) func(*model.IndicatorSnapshot) (Vote, bool) {
	return func(s *model.IndicatorSnapshot) (Vote, bool) {
		if s.BollingerLower != nil && s.Price < *s.BollingerLower {
			return long(cfg.BollingerWeight, "BB-L")
		}
		if s.BollingerUpper != nil && s.Price > *s.BollingerUpper {
			return short(cfg.BollingerWeight, "BB-U")
		}
		return Vote{}, false
	}
}
