package liquidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Event is one audited lifecycle occurrence on a request, published for
// downstream notification and audit consumers.
type Event struct {
	RequestID  uuid.UUID                `json:"request_id"`
	UserID     uuid.UUID                `json:"user_id"`
	Type       string                   `json:"type"`
	FromStatus models.LiquidationStatus `json:"from_status,omitempty"`
	ToStatus   models.LiquidationStatus `json:"to_status,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	At         time.Time                `json:"at"`
}

// Publisher emits lifecycle events. Publishing is best-effort from the
// workflow's point of view; the persisted transition is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// KafkaPublisher writes events to the liquidation event topic keyed by
// request id so per-request ordering is preserved.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RequestID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events; used when the event stream is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
