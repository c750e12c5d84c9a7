// Package ingest publishes pool lifecycle events to Kafka for the
// analytics consumer. Publishing is best-effort: a broker hiccup never
// fails the operation that produced the event.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	EventRequestCreated     = "request_created"
	EventMatchFound         = "match_found"
	EventConnectionSent     = "connection_sent"
	EventConnectionApproved = "connection_approved"
	EventConnectionRejected = "connection_rejected"
	EventRequestCancelled   = "request_cancelled"
)

// PoolEvent is the wire record written to the pool-events topic,
// keyed by request ID so per-request history stays ordered.
type PoolEvent struct {
	Type      string    `json:"type"`
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	CollegeID int64     `json:"college_id"`
	At        time.Time `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) Publish(ctx context.Context, evt PoolEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b, _ := json.Marshal(evt)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RequestID.String()), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
