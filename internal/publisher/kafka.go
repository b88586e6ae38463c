package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// MessageWriter is the part of *kafka.Writer the transport needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport writes envelopes to a topic keyed by order id.
type KafkaTransport struct {
	writer MessageWriter
}

// NewKafkaWriter returns a writer that makes a single attempt per call; the
// publisher's retry policy owns retries.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaTransport(w MessageWriter) *KafkaTransport {
	return &KafkaTransport{writer: w}
}

func (t *KafkaTransport) Send(ctx context.Context, key string, body []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	tracing.Inject(ctx, &msg)

	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, kafka.MessageSizeTooLarge) {
			return apperr.Invalid(fmt.Errorf("write message: %w", err))
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Close() error { return t.writer.Close() }
