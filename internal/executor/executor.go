package executor

import (
	"context"

	"intraday-trader/internal/model"
)

// Executor 是交易执行器的通用接口，负责把持仓管理器的决策落到账户上
type Executor interface {
	// 提交开仓或平仓指令
	Submit(ctx context.Context, intent model.Intent) error

	// 查询账户实际持仓，用于对账
	Holdings(ctx context.Context) ([]model.Holding, error)

	// 账户净值
	Equity(ctx context.Context) (float64, error)
}

// isBuy 持仓方向 + 开/平 → 买卖方向: 开多、平空为买入
func isBuy(intent model.Intent) bool {
	opening := intent.Kind == model.IntentOpen
	long := intent.Direction == model.DirLong
	return opening == long
}
