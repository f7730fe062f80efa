package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pipeline-platform/internal/app"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/config"
	"github.com/suPer8Hu/pipeline-platform/internal/httpapi"
	"github.com/suPer8Hu/pipeline-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/pipeline-platform/internal/logging"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
	"github.com/suPer8Hu/pipeline-platform/internal/runner"
	"github.com/suPer8Hu/pipeline-platform/internal/store/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "api")

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

	// an empty RABBIT_URL runs turns inside the api process
	var inline *runner.Inline
	if cfg.RabbitURL == "" {
		inline = runner.NewInline(a.Engine, cfg.WorkerConcurrency, logger)
		a.Engine.SetDispatcher(inline)
		logger.Warn().Msg("RABBIT_URL not set, executing jobs in-process")
	} else {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit publisher")
		}
		defer pub.Close()
		a.Engine.SetDispatcher(pub)
	}

	h := &handlers.Handler{
		DB:       a.DB,
		Cfg:      cfg,
		ChatSvc:  chat.NewService(a.Repo, cfg.UploadDir, logger),
		Engine:   a.Engine,
		Registry: a.Registry,
		Manager:  pipeline.NewManager(pipeline.NewDynamicRepo(a.DB), a.Registry, a.Titles, logger),
		Events:   a.Broker,
		Log:      logger,
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, a.Subjects, a.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if inline != nil {
		inline.Wait()
	}
}
