// Package kafka exports ride events to a Kafka topic for downstream
// consumers such as analytics and receipts.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"mototaxi/internal/events"
)

const (
	writeTimeout = 2 * time.Second
	batchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to Kafka keyed by ride ID, so every change to one
// ride lands on the same partition in order.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher for topic on brokers. Writes are
// asynchronous: Publish returns once the message is buffered, and delivery
// failures are logged.
func NewPublisher(brokers []string, topic string, log *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka_write_failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &Publisher{writer: w}
}

func newPublisherWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w}
}

// Publish encodes e as JSON and writes it.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	if e.Ride == nil {
		return nil
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Ride.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.At,
	})
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
