package consumer

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/codementor/integrity/internal/config"
)

// MessageProcessor handles one message value at a time.
type MessageProcessor interface {
	Process(ctx context.Context, value []byte) error
	Flush()
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds the flagged-entry topic to a processor.
type KafkaConsumer struct {
	reader    MessageReader
	processor MessageProcessor
	topic     string
	group     string
}

func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) *KafkaConsumer {
	topic := cfg.FlaggedTopic()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.FirstOffset,
	})
	return NewKafkaConsumerWithReader(reader, processor, topic, cfg.ConsumerGroup)
}

func NewKafkaConsumerWithReader(reader MessageReader, processor MessageProcessor, topic, group string) *KafkaConsumer {
	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
		topic:     topic,
		group:     group,
	}
}

// Start consumes until ctx is done.
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Kafka consumer stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		// Undecodable entries are committed so the partition does not stall.
		if err := c.processor.Process(ctx, msg.Value); err != nil {
			log.Error().
				Err(err).
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Msg("Failed to process flagged entry")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

// Close flushes the processor and closes the reader.
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}
