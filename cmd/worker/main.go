package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pipeline-platform/internal/app"
	"github.com/suPer8Hu/pipeline-platform/internal/config"
	"github.com/suPer8Hu/pipeline-platform/internal/logging"
	"github.com/suPer8Hu/pipeline-platform/internal/store/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "worker")

	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required by the worker")
	}
	if cfg.RedisAddr == "" {
		logger.Warn().Msg("REDIS_ADDR not set, notifications will not reach the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("pipeline registry")
	}
	a.ServeMetrics(ctx, cfg.MetricsAddr)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, rabbitmq.ConsumerConfig{
		Queue:       cfg.RabbitQueue,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.RabbitMaxRetries,
		RetryDelay:  cfg.RabbitRetryDelay,
	}, a.Engine, logger, a.Metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
}
