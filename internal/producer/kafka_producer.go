package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/telemetry"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes flagged entries for the flag processor. It satisfies
// store.FlagIndex.
type KafkaProducer struct {
	writer MessageWriter
	topic  string
}

func NewKafkaProducer(cfg config.KafkaConfig) *KafkaProducer {
	topic := cfg.FlaggedTopic()
	return NewKafkaProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: time.Millisecond * 100,
		RequiredAcks: kafka.RequireOne,
	}, topic)
}

func NewKafkaProducerWithWriter(w MessageWriter, topic string) *KafkaProducer {
	return &KafkaProducer{writer: w, topic: topic}
}

// Index writes one message per entry keyed by session id, so a session's entries stay
// on one partition in order.
func (p *KafkaProducer) Index(ctx context.Context, entries []telemetry.FlaggedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SessionID),
			Value: data,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) Topic() string {
	return p.topic
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
