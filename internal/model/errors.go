package model

import "errors"

var (
	// 数据源没有返回任何 K 线
	ErrDataUnavailable = errors.New("market data unavailable")
	// K 线数量不足以计算
	ErrInsufficientBars = errors.New("insufficient bars")

	// 以下是开仓决策，不是故障
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrCooldown         = errors.New("symbol in cooldown")
	ErrCapacity         = errors.New("max concurrent positions reached")
	ErrQuantityTooSmall = errors.New("computed quantity below one share")
	ErrInvalidPrice     = errors.New("invalid price")
)
