package model

import "time"

// Quote 是某个标的的最新成交价快照，用于持仓的退出判断
type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Bar 代表一根已完成的 K 线 (不可变)
type Bar struct {
	Symbol    string        // 股票代码，例如 "AAPL"
	Interval  time.Duration // 周期，例如 1m, 5m
	Timestamp time.Time     // K 线起始时间
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	VWAP      float64 // 数据源提供时才有值
}

// Closes 提取收盘价序列
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes 提取成交量序列
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
