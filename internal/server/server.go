package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
	"intraday-trader/internal/position"
)

// StatusSource 引擎健康状态
type StatusSource interface {
	Healthy() bool
	ConsecutiveFailures() int
	LastSummary() (model.CycleSummary, bool)
}

type PositionSource interface {
	Positions() []model.Position
	Ledger() *position.Ledger
}

type RegimeSource interface {
	Current() model.VolatilityRegime
}

// Deps 各接口的数据来源
type Deps struct {
	Status    StatusSource
	Positions PositionSource
	Regime    RegimeSource
	Metrics   http.Handler     // promhttp
	WS        http.HandlerFunc // 可为空
}

// Server 状态与健康检查 HTTP 服务
type Server struct {
	echo   *echo.Echo
	addr   string
	deps   Deps
	logger *zap.Logger
}

func New(addr string, deps Deps, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, addr: addr, deps: deps, logger: logger}

	e.GET("/healthz", s.healthz)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	api := e.Group("/api")
	api.GET("/positions", s.positions)
	api.GET("/ledger", s.ledger)
	api.GET("/regime", s.regime)
	if deps.WS != nil {
		e.GET("/ws", echo.WrapHandler(deps.WS))
	}
	return s
}

// Handler 用于测试
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 后台监听，监听失败只记录日志
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("Addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

type healthResponse struct {
	Status              string              `json:"status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastCycle           *model.CycleSummary `json:"last_cycle,omitempty"`
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{
		Status:              "ok",
		ConsecutiveFailures: s.deps.Status.ConsecutiveFailures(),
	}
	if last, ok := s.deps.Status.LastSummary(); ok {
		resp.LastCycle = &last
	}
	if !s.deps.Status.Healthy() {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) positions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Positions.Positions())
}

type ledgerResponse struct {
	Summary position.LedgerSummary `json:"summary"`
	Trades  []model.ClosedTrade    `json:"trades"`
}

func (s *Server) ledger(c echo.Context) error {
	l := s.deps.Positions.Ledger()
	return c.JSON(http.StatusOK, ledgerResponse{Summary: l.Summary(), Trades: l.Trades()})
}

func (s *Server) regime(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Regime.Current())
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("HTTP request",
				zap.String("Method", c.Request().Method),
				zap.String("Path", c.Path()),
				zap.Int("Status", c.Response().Status),
				zap.Duration("Took", time.Since(start)),
			)
			return err
		}
	}
}
