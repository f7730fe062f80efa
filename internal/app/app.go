// Package app wires the services shared by the api and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/auth"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/config"
	"github.com/suPer8Hu/pipeline-platform/internal/db"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
	"github.com/suPer8Hu/pipeline-platform/internal/models"
	"github.com/suPer8Hu/pipeline-platform/internal/notify"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
	"github.com/suPer8Hu/pipeline-platform/internal/pipelines"
	"github.com/suPer8Hu/pipeline-platform/internal/runner"
	"github.com/suPer8Hu/pipeline-platform/internal/store/redisstore"
	"gorm.io/gorm"
)

type App struct {
	Cfg      config.Config
	Log      zerolog.Logger
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Repo     *chat.Repo
	Subjects *auth.Subjects
	Broker   notify.Broker
	Registry *pipeline.Registry
	Titles   ai.TitleGenerator
	Engine   *runner.Engine

	redis *redisstore.Store
}

// New opens the database, migrates it and assembles the registry and the
// engine. The engine has no dispatcher yet.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	tables := append(append(chat.Models(), models.All()...), &pipeline.DynamicPipeline{})
	if err := db.Migrate(gdb, tables...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Cfg: cfg, Log: log, DB: gdb, Metrics: metrics.New()}
	a.Repo = chat.NewRepo(gdb)
	a.Subjects = auth.NewSubjects(gdb)

	var regOpts []pipeline.RegistryOption
	regOpts = append(regOpts, pipeline.WithMetrics(a.Metrics))
	if cfg.RedisAddr != "" {
		a.redis = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := a.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Broker = notify.NewRedisBroker(a.redis, log)
		regOpts = append(regOpts, pipeline.WithBus(a.redis))
	} else {
		log.Warn().Msg("REDIS_ADDR not set, notifications stay in this process")
		a.Broker = notify.NewMemoryBroker()
	}

	providers := ai.NewDefaultRegistry(ai.Defaults{
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	a.Titles = ai.NewLLMTitleGenerator(ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.TitleModel))

	lib := pipeline.NewLibrary()
	pipelines.Register(lib, pipelines.Deps{
		Providers:    providers,
		Titles:       a.Titles,
		HTTP:         &http.Client{Timeout: cfg.HTTPTimeout},
		DefaultModel: cfg.OllamaModel,
		WhisperURL:   cfg.WhisperURL,
		SDXLURL:      cfg.SDXLURL,
		SearchURL:    cfg.SearchURL,
		MediaDir:     cfg.MediaDir,
		MediaURL:     cfg.MediaURL,
	})
	load := func() (*pipeline.Catalog, error) { return pipeline.LoadCatalog(cfg.CatalogPath) }
	a.Registry = pipeline.NewRegistry(lib, load, pipeline.NewDynamicRepo(gdb), log, regOpts...)

	a.Engine = runner.New(a.Repo, a.Registry, a.Subjects, a.Broker, log, runner.WithMetrics(a.Metrics))
	return a, nil
}

// Start builds the first registry snapshot and starts its refresh triggers.
// A configuration error is returned as is so the caller can abort.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.Rebuild(ctx, "startup"); err != nil {
		return err
	}
	if err := a.Registry.ListenInvalidations(ctx); err != nil {
		return fmt.Errorf("listen invalidations: %w", err)
	}
	if a.Cfg.RegistryRefresh != "" {
		if err := a.Registry.StartRefresh(ctx, a.Cfg.RegistryRefresh); err != nil {
			return fmt.Errorf("registry refresh %q: %w", a.Cfg.RegistryRefresh, err)
		}
	}
	if a.Cfg.WatchCatalog && a.Cfg.CatalogPath != "" {
		if err := a.Registry.WatchCatalog(ctx, a.Cfg.CatalogPath); err != nil {
			a.Log.Warn().Err(err).Msg("catalog hot reload disabled")
		}
	}
	return nil
}

// ServeMetrics exposes /metrics on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.Log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error().Err(err).Msg("metrics server")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
