package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("RABBIT_URL", "")
	t.Setenv("OLLAMA_MODEL", "")
	t.Setenv("TITLE_MODEL", "")

	cfg := Load()
	assert.Contains(t, cfg.DBDSN, "tcp(127.0.0.1:3306)/pipelines")
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.RabbitURL)
	assert.Equal(t, "llama3:latest", cfg.TitleModel)
	assert.Equal(t, 3, cfg.WorkerConcurrency)
	assert.True(t, cfg.WatchCatalog)
	assert.Equal(t, 3, cfg.RabbitMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.RabbitRetryDelay)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DSN", "sqlite:test.db")
	t.Setenv("OLLAMA_MODEL", "mistral")
	t.Setenv("TITLE_MODEL", "")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("PIPELINE_CATALOG_WATCH", "off")
	t.Setenv("SERVICE_TIMEOUT", "30s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, "sqlite:test.db", cfg.DBDSN)
	assert.Equal(t, "mistral", cfg.TitleModel)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.False(t, cfg.WatchCatalog)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
}
