package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"intraday-trader/internal/model"
)

// messageWriter 是 *kafka.Writer 中用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOption 调整底层 Writer
type KafkaOption func(*kafka.Writer)

// WithBatchTimeout 设置批量发送的等待时间
func WithBatchTimeout(d time.Duration) KafkaOption {
	return func(w *kafka.Writer) {
		w.BatchTimeout = d
	}
}

// WithRequiredAcks 设置确认级别 (-1 全部副本，1 leader)
func WithRequiredAcks(acks int) KafkaOption {
	return func(w *kafka.Writer) {
		w.RequiredAcks = kafka.RequiredAcks(acks)
	}
}

// KafkaSink 把事件以 JSON 写入 Kafka，按标的做 key，同一标的的事件落在同一分区
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string, opts ...KafkaOption) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &KafkaSink{writer: w, topic: topic}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, e model.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka marshal %s: %w", e.Kind, err)
	}
	key := e.Symbol
	if key == "" {
		key = string(e.Kind)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
