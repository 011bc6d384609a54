// Package kafka publishes auth and invitation events to a Kafka topic as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"coachhub/internal/telemetry"
	"coachhub/internal/telemetry/domain"
)

// writeTimeout bounds a single publish.
const writeTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the emitter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Emitter implements telemetry.EventEmitter on a Kafka writer.
type Emitter struct {
	writer MessageWriter
}

var _ telemetry.EventEmitter = (*Emitter)(nil)

// message is the wire shape of one event.
type message struct {
	Type       string            `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewEmitter returns an emitter writing to topic on brokers, or nil when either is empty.
// Call Close when shutting down.
func NewEmitter(brokers []string, topic string) *Emitter {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return NewEmitterWithWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
}

// NewEmitterWithWriter returns an emitter on w. Used by tests.
func NewEmitterWithWriter(w MessageWriter) *Emitter {
	return &Emitter{writer: w}
}

// Emit publishes event keyed by identity, so one identity's events stay ordered within a partition.
func (e *Emitter) Emit(ctx context.Context, event *domain.Event) error {
	if e == nil || e.writer == nil || event == nil {
		return nil
	}
	payload, err := json.Marshal(message{
		Type:       string(event.Type),
		IdentityID: event.IdentityID,
		Source:     event.Source,
		Attributes: event.Attributes,
		CreatedAt:  event.CreatedAt.UTC(),
	})
	if err != nil {
		return err
	}
	var key []byte
	if event.IdentityID != "" {
		key = []byte(event.IdentityID)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return e.writer.WriteMessages(writeCtx, kafkago.Message{Key: key, Value: payload})
}

// Close flushes and closes the writer. Safe on a nil emitter.
func (e *Emitter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
