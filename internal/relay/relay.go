// Package relay forwards committed events to Kafka so downstream indexers can
// consume every owner stream from one topic.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sudo-init-do/taskmarket/internal/events"
)

// Writer is the part of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay is an events.Sink publishing one message per event, keyed by owner
// so a stream stays ordered within its partition.
type Relay struct {
	writer  Writer
	timeout time.Duration
}

func New(w Writer) *Relay {
	return &Relay{writer: w, timeout: 5 * time.Second}
}

// NewKafka builds a relay writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Relay {
	return New(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func (r *Relay) Publish(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, e := range batch {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("relay: encode %s/%d: %w", e.Owner, e.Seq, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Owner),
			Value: value,
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
				{Key: "seq", Value: []byte(strconv.FormatUint(e.Seq, 10))},
			},
		})
	}

	// The store has already committed; do not let a cancelled request
	// context drop the delivery.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("relay: write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (r *Relay) Close() error {
	return r.writer.Close()
}
