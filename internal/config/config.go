package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBDSN     string
	JWTSecret string
	HTTPAddr  string

	// Empty RedisAddr runs notifications through the in-process broker.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogPretty bool

	// pipeline catalog and registry
	CatalogPath     string
	RegistryRefresh string // cron spec for periodic rebuilds
	WatchCatalog    bool

	UploadDir string
	MediaDir  string
	MediaURL  string

	// model serving
	OllamaBaseURL     string
	OllamaModel       string
	TitleModel        string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	WhisperURL  string
	SDXLURL     string
	SearchURL   string
	HTTPTimeout time.Duration

	// rabbitMQ; empty RabbitURL executes jobs in-process
	RabbitURL        string
	RabbitQueue      string
	RabbitMaxRetries int
	RabbitRetryDelay time.Duration

	WorkerConcurrency int
	MetricsAddr       string
}

func Load() Config {
	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/pipelines?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite: DB_DSN=sqlite:pipelines.db
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "pipelines",
		)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	ollamaModel := getenv("OLLAMA_MODEL", "llama3:latest")

	return Config{
		DBDSN:     dsn,
		JWTSecret: secret,
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogPretty: getbool("LOG_PRETTY", false),

		CatalogPath:     getenv("PIPELINE_CATALOG", "config/pipelines.yaml"),
		RegistryRefresh: getenv("REGISTRY_REFRESH", "@every 5m"),
		WatchCatalog:    getbool("PIPELINE_CATALOG_WATCH", true),

		UploadDir: getenv("UPLOAD_DIR", "media/uploaded"),
		MediaDir:  getenv("MEDIA_DIR", "media"),
		MediaURL:  getenv("MEDIA_URL", "/media/"),

		OllamaBaseURL:     getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       ollamaModel,
		TitleModel:        getenv("TITLE_MODEL", ollamaModel),
		OpenRouterBaseURL: getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getenv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		WhisperURL:  getenv("WHISPER_URL", "http://localhost:9000"),
		SDXLURL:     getenv("SDXL_URL", "http://localhost:9100"),
		SearchURL:   getenv("SEARCH_URL", "http://localhost:9200"),
		HTTPTimeout: getduration("SERVICE_TIMEOUT", 10*time.Minute),

		RabbitURL:        os.Getenv("RABBIT_URL"),
		RabbitQueue:      getenv("RABBIT_QUEUE", "pipeline_jobs"),
		RabbitMaxRetries: getint("RABBIT_MAX_RETRIES", 3),
		RabbitRetryDelay: getduration("RABBIT_RETRY_DELAY", 10*time.Second),

		WorkerConcurrency: getint("WORKER_CONCURRENCY", 3),
		MetricsAddr:       getenv("METRICS_ADDR", ":9091"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
