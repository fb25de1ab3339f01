package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/enricher"
	"github.com/codementor/integrity/internal/handler"
	"github.com/codementor/integrity/internal/pipeline"
	"github.com/codementor/integrity/internal/producer"
	"github.com/codementor/integrity/internal/ratelimit"
	"github.com/codementor/integrity/internal/reporter"
	"github.com/codementor/integrity/internal/server"
	"github.com/codementor/integrity/internal/session"
	"github.com/codementor/integrity/internal/store"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/ingestor.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("auth.jwt_secret is required")
	}

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("tracker", cfg.Tracker.Backend).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Starting integrity ingestor...")

	ctx := context.Background()

	// Event store
	var events store.EventStore
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pg.Close()
		events = pg
	default:
		fs, err := store.NewFileStore(cfg.Store.Dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Store.Dir).Msg("Failed to open event store")
		}
		events = fs
	}
	log.Info().Msg("Event store initialized")

	// Redis backs the rate limiter, and the tracker when configured
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			if cfg.Tracker.Backend == "redis" {
				log.Fatal().Err(err).Msg("Failed to connect to Redis")
			}
			log.Warn().Err(err).Msg("Failed to connect to Redis, rate limiting disabled")
			rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			log.Info().Msg("Connected to Redis")
		}
	}

	var tracker session.Tracker
	var locker session.Locker
	if cfg.Tracker.Backend == "redis" {
		tracker = session.NewRedisTracker(rdb, cfg.Tracker.TTL)
		locker = session.NewRedisLocker(rdb, cfg.Tracker.LockTTL)
	} else {
		tracker = session.NewMemoryTracker()
		locker = session.NewMemoryLocker()
	}

	// Flag indexes
	fileIndex, err := store.NewFileFlagIndex(cfg.Store.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open flag index")
	}
	flags := store.MultiIndex{fileIndex}
	if cfg.Kafka.Enabled {
		kafkaProducer := producer.NewKafkaProducer(cfg.Kafka)
		defer kafkaProducer.Close()
		flags = append(flags, kafkaProducer)
		log.Info().Str("topic", kafkaProducer.Topic()).Msg("Kafka producer initialized")
	}

	eventEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer eventEnricher.Close()

	p := pipeline.New(events, tracker, locker, flags, pipeline.Config{
		MaxEvents: cfg.Batch.MaxEvents,
		LockWait:  cfg.Tracker.LockWait,
	})
	rep := reporter.New(events, auth.NewRoles(cfg.Auth.ReviewerRoles))
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit.RequestsPerSecond)

	// Create gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryInterceptor(verifier, server.PublicMethods())))
	healthServer := server.RegisterIngestService(grpcServer, server.NewIngestServer(p, rep, eventEnricher))

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to listen for gRPC")
		}
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to serve gRPC")
		}
	}()

	// Create HTTP server
	httpHandler := handler.NewHTTPHandler(p, rep, eventEnricher)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler.NewRouter(httpHandler, verifier, limiter, cfg.Server.AllowedOrigin),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down servers...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown did not complete")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("Servers stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
