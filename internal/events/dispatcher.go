package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

// Sink 事件的下游 (日志、Kafka、数据库、WebSocket)
type Sink interface {
	Name() string
	Publish(ctx context.Context, e model.Event) error
}

// Dispatcher 异步把事件分发给所有 Sink
// 引擎只往缓冲通道里投递，缓冲满时丢弃并告警，永远不会阻塞扫描周期
type Dispatcher struct {
	sinks   []Sink
	ch      chan model.Event
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}

	dropped atomic.Uint64
	onError func(sink string)
}

// NewDispatcher buffer 为通道容量，每个 Sink 单次投递的超时为 5 秒
func NewDispatcher(buffer int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		ch:      make(chan model.Event, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnSinkError 注册投递失败回调 (用于指标)
func (d *Dispatcher) OnSinkError(fn func(sink string)) {
	d.onError = fn
}

// Start 启动分发 goroutine，重复调用或关闭后调用无效
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.loop()
}

// Emit 生成事件并投递
func (d *Dispatcher) Emit(kind model.EventKind, symbol string, payload any) bool {
	return d.Publish(model.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Symbol:  symbol,
		Time:    time.Now().UTC(),
		Payload: payload,
	})
}

// Publish 非阻塞投递，返回 false 表示已关闭或缓冲已满
func (d *Dispatcher) Publish(e model.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.ch <- e:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Event buffer full, event dropped", zap.String("Kind", string(e.Kind)), zap.String("Symbol", e.Symbol))
		return false
	}
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close 停止接收新事件，把缓冲中的事件投递完后返回
// 未 Start 时缓冲中的事件计入丢弃数并立即返回
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.ch)
	if !d.started {
		d.dropped.Add(uint64(len(d.ch)))
		close(d.done)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := s.Publish(ctx, e)
			cancel()
			if err != nil {
				d.logger.Warn("Event sink failed",
					zap.String("Sink", s.Name()),
					zap.String("Kind", string(e.Kind)),
					zap.Error(err),
				)
				if d.onError != nil {
					d.onError(s.Name())
				}
			}
		}
	}
}
