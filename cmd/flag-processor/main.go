package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/consumer"
	"github.com/codementor/integrity/internal/processor"
	"github.com/codementor/integrity/internal/store"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/flag-processor.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("kafka.brokers is required")
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.FlaggedTopic()).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := store.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	if err := ch.EnsureSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create flagged_events table")
	}
	log.Info().Msg("Connected to ClickHouse")

	flagProcessor := processor.NewFlagProcessor(ch, cfg.Batch)
	kafkaConsumer := consumer.NewKafkaConsumer(cfg.Kafka, flagProcessor)

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	go kafkaConsumer.Start(ctx)

	log.Info().
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Msg("Flag processor started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	if err := kafkaConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Kafka consumer")
	}
	flagProcessor.Stop()

	log.Info().Msg("Shutdown complete")
}
