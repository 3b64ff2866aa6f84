package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/aqua-risk/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/aqua-risk/internal/adapter/kafka"
	"github.com/couchcryptid/aqua-risk/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/aqua-risk/internal/adapter/redis"
	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/config"
	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
	"github.com/couchcryptid/aqua-risk/internal/pipeline"
	"github.com/couchcryptid/aqua-risk/internal/predictor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	art, err := artifact.Load(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}
	pred, err := predictor.New(art, predictor.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}
	logger.Info("model loaded", "model", pred.ModelName(), "run_id", pred.RunID(), "interval", pred.HasInterval())

	// Score cache (feature-flagged via REDIS_ADDR).
	var scorer domain.Scorer = pred
	if cfg.RedisAddr != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		scorer = redisadapter.NewCachedScorer(pred, client, pred.RunID(), cfg.ScoreCacheTTL, metrics, logger)
		logger.Info("score cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ScoreCacheTTL)
	} else {
		logger.Info("score cache disabled")
	}

	checkers := []sharedobs.ReadinessChecker{}
	var serverOpts []httpadapter.Option

	// Score history (feature-flagged via POSTGRES_URL).
	var recorder *postgres.Recorder
	if cfg.PostgresURL != "" {
		db, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder = postgres.NewRecorder(db)
		if err := recorder.EnsureSchema(ctx); err != nil {
			return err
		}
		checkers = append(checkers, recorder)
		serverOpts = append(serverOpts,
			httpadapter.WithRecorder(recorder, pred.ModelName()),
			httpadapter.WithHistory(recorder))
		logger.Info("score history enabled")
	}

	// Kafka batch scoring (feature-flagged via KAFKA_ENABLED).
	var (
		p      *pipeline.Pipeline
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts := []pipeline.Option{pipeline.WithModel(pred.ModelName())}
		if recorder != nil {
			opts = append(opts, pipeline.WithRecorder(recorder))
		}
		p = pipeline.New(reader, scorer, writer, logger, metrics, cfg.BatchSize, opts...)
		checkers = append(checkers, p)
		logger.Info("kafka scoring enabled",
			"source_topic", cfg.KafkaSourceTopic, "sink_topic", cfg.KafkaSinkTopic, "batch_size", cfg.BatchSize)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, observability.AllReady(checkers...), scorer, logger, serverOpts...)

	// Start HTTP server.
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start scoring pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
