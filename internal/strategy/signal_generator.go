package strategy

import (
	"time"

	"go.uber.org/zap"

	"intraday-trader/internal/model"
	"intraday-trader/internal/service"
)

// SignalGenerator 把规则投票汇总成方向和置信度
type SignalGenerator struct {
	rules  []Rule
	cfg    service.ScoringConfig
	logger *zap.Logger
}

// NewSignalGenerator 使用默认规则集
func NewSignalGenerator(cfg service.ScoringConfig, logger *zap.Logger) *SignalGenerator {
	return NewSignalGeneratorWithRules(DefaultRules(cfg), cfg, logger)
}

// NewSignalGeneratorWithRules 使用自定义规则集，规则顺序即评估顺序
func NewSignalGeneratorWithRules(rules []Rule, cfg service.ScoringConfig, logger *zap.Logger) *SignalGenerator {
	if cfg.DominanceMargin < 1 {
		cfg.DominanceMargin = 1
	}
	if cfg.MaxRationale <= 0 {
		cfg.MaxRationale = 3
	}
	return &SignalGenerator{rules: rules, cfg: cfg, logger: logger}
}

// Tally 依次评估每条规则，累加多空得分，按顺序收集触发的标签
func (sg *SignalGenerator) Tally(snap *model.IndicatorSnapshot) (longScore, shortScore float64, tags []string) {
	for _, rule := range sg.rules {
		vote, ok := rule.Evaluate(snap)
		if !ok || vote.Weight <= 0 {
			continue
		}
		switch vote.Direction {
		case model.DirLong:
			longScore += vote.Weight
		case model.DirShort:
			shortScore += vote.Weight
		default:
			continue
		}
		if vote.Tag != "" {
			tags = append(tags, vote.Tag)
		}
	}
	return longScore, shortScore, tags
}

// Score 返回 nil 表示没有信号：没有规则触发、多空不分胜负、或置信度低于当前波动状态的门槛
func (sg *SignalGenerator) Score(snap *model.IndicatorSnapshot, regime model.VolatilityRegime, now time.Time) *model.Signal {
	if snap == nil || snap.Price <= 0 {
		return nil
	}

	longScore, shortScore, tags := sg.Tally(snap)
	total := longScore + shortScore
	if total == 0 {
		return nil
	}

	var direction model.Direction
	var winner float64
	switch {
	case longScore > shortScore*sg.cfg.DominanceMargin:
		direction, winner = model.DirLong, longScore
	case shortScore > longScore*sg.cfg.DominanceMargin:
		direction, winner = model.DirShort, shortScore
	default:
		sg.logger.Debug("No dominant direction",
			zap.String("Symbol", snap.Symbol),
			zap.Float64("Long", longScore),
			zap.Float64("Short", shortScore),
		)
		return nil
	}

	confidence := winner / total
	if confidence < regime.ConfidenceThreshold {
		sg.logger.Debug("Confidence below regime threshold",
			zap.String("Symbol", snap.Symbol),
			zap.Float64("Confidence", confidence),
			zap.Float64("Threshold", regime.ConfidenceThreshold),
		)
		return nil
	}

	if len(tags) > sg.cfg.MaxRationale {
		tags = tags[:sg.cfg.MaxRationale]
	}

	return &model.Signal{
		Symbol:      snap.Symbol,
		Direction:   direction,
		EntryPrice:  snap.Price,
		Confidence:  confidence,
		Rationale:   tags,
		LongScore:   longScore,
		ShortScore:  shortScore,
		GeneratedAt: now,
	}
}
