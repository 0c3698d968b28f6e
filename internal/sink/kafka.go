// Package sink forwards bus updates to an external Kafka topic so other
// services (scheduler, creative agent) can observe orchestrator progress.
// Forwarding is fire-and-forget: a broker outage never affects task flow.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/voxd/voxd/internal/bus"
)

const writeTimeout = 5 * time.Second

// KafkaSink writes every bus update as a JSON message keyed by userId.
type KafkaSink struct {
	writer *kafka.Writer
	bus    *bus.UpdateBus
	logger *slog.Logger
}

func NewKafkaSink(brokers []string, topic string, b *bus.UpdateBus, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the bus and forwards updates until ctx is cancelled.
func (s *KafkaSink) Start(ctx context.Context) {
	id, updates := s.bus.Subscribe(bus.DefaultBuffer)
	go func() {
		defer s.bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				s.forward(ctx, u)
			}
		}
	}()
}

func (s *KafkaSink) forward(ctx context.Context, u *bus.Update) {
	value, err := json.Marshal(u)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err = s.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(u.UserID),
		Value: value,
	})
	if err != nil {
		s.logger.Warn("kafka forward failed", "type", string(u.Type), "error", err)
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
