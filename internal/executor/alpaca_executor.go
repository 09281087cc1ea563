package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// AlpacaConfig 定义 Alpaca 执行器所需的全部配置
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string // paper: https://paper-api.alpaca.markets
}

// tradingClient 是 *alpaca.Client 中用到的部分，方便测试替换
type tradingClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetPositions() ([]alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

// AlpacaExecutor 通过 Alpaca Trading API 下市价单
type AlpacaExecutor struct {
	client tradingClient
	logger *zap.SugaredLogger
}

func NewAlpacaExecutor(cfg AlpacaConfig, logger *zap.Logger) *AlpacaExecutor {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.SecretKey,
		BaseURL:   cfg.BaseURL,
	})
	return newAlpacaExecutor(client, logger)
}

func newAlpacaExecutor(client tradingClient, logger *zap.Logger) *AlpacaExecutor {
	return &AlpacaExecutor{client: client, logger: logger.Sugar()}
}

// Submit 下市价单，当日有效；部分成交等订单状态不在这里跟踪
func (e *AlpacaExecutor) Submit(ctx context.Context, intent model.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if intent.Quantity <= 0 {
		return fmt.Errorf("alpaca order %s: invalid qty %d", intent.Symbol, intent.Quantity)
	}

	side := alpaca.Sell
	if isBuy(intent) {
		side = alpaca.Buy
	}
	qty := decimal.NewFromInt(intent.Quantity)

	order, err := e.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        intent.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: intent.ID,
	})
	if err != nil {
		return fmt.Errorf("alpaca order %s %s %d: %w", intent.Symbol, side, intent.Quantity, err)
	}

	e.logger.Infof("Alpaca ORDER PLACED (%s): %s %s %d, order id %s, reason %s",
		intent.Kind, side, intent.Symbol, intent.Quantity, order.ID, intent.Reason)
	return nil
}

func (e *AlpacaExecutor) Holdings(ctx context.Context) ([]model.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := e.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	out := make([]model.Holding, 0, len(positions))
	for _, p := range positions {
		dir := model.DirLong
		if strings.EqualFold(string(p.Side), "short") || p.Qty.IsNegative() {
			dir = model.DirShort
		}
		avg, _ := p.AvgEntryPrice.Float64()
		out = append(out, model.Holding{
			Symbol:        p.Symbol,
			Direction:     dir,
			Quantity:      p.Qty.Abs().IntPart(),
			AvgEntryPrice: avg,
		})
	}
	return out, nil
}

func (e *AlpacaExecutor) Equity(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	account, err := e.client.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("alpaca account: %w", err)
	}
	equity, _ := account.Equity.Float64()
	return equity, nil
}
