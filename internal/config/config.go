package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	LogRedaction bool
	LogHashSalt  string

	DBDSN string

	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool
	CORSOrigins  []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChatContextWindowSize int

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OllamaImageModel  string
	OllamaNumPredict  int
	OllamaTemperature float64
	OllamaTopK        int
	OllamaTopP        float64
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// Stable Diffusion WebUI
	SDBaseURLs       []string
	SDHealthInterval time.Duration

	// blob storage
	StorageBackend string
	StorageRoot    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
	WorkerMaxAttempts int
	WorkerRetryDelay  time.Duration

	RateLimitChatPerHour   int
	RateLimitImagesPerHour int

	OtelEnabled     bool
	OtelServiceName string
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/webchat?charset=utf8mb4&parseTime=true&loc=Local
	// sqlite:data/webchat.db
	dsn := getEnv("DB_DSN", "sqlite:data/webchat.db")

	return Config{
		AppEnv:       getEnv("APP_ENV", "dev"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "debug"),
		LogRedaction: getEnvBool("LOG_REDACTION_ENABLED", true),
		LogHashSalt:  os.Getenv("LOG_HASH_SALT"),

		DBDSN: dsn,

		JWTSecret:    getEnv("JWT_SECRET", "dev-secret-change-me"),
		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),
		CORSOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ChatContextWindowSize: getEnvInt("CHAT_CONTEXT_WINDOW_SIZE", 20),

		AIProvider:        getEnv("AI_PROVIDER", "ollama"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OllamaImageModel:  os.Getenv("OLLAMA_IMAGE_MODEL"),
		OllamaNumPredict:  getEnvInt("OLLAMA_NUM_PREDICT", 2048),
		OllamaTemperature: getEnvFloat("OLLAMA_TEMPERATURE", 0.7),
		OllamaTopK:        getEnvInt("OLLAMA_TOP_K", 40),
		OllamaTopP:        getEnvFloat("OLLAMA_TOP_P", 0.9),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		SDBaseURLs: getEnvList("SD_BASE_URLS", []string{
			"http://127.0.0.1:7860",
			"http://127.0.0.1:7861",
			"http://localhost:7860",
		}),
		SDHealthInterval: getEnvDuration("SD_HEALTH_INTERVAL", 30*time.Second),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		StorageRoot:    getEnv("STORAGE_ROOT", "data/uploads"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "webchat"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "image_jobs"),
		WorkerConcurrency: clamp(getEnvInt("WORKER_CONCURRENCY", 2), 1, 50),
		WorkerMaxAttempts: clamp(getEnvInt("WORKER_MAX_ATTEMPTS", 3), 1, 10),
		WorkerRetryDelay:  getEnvDuration("WORKER_RETRY_DELAY", 10*time.Second),

		RateLimitChatPerHour:   getEnvInt("RATE_LIMIT_CHAT_PER_HOUR", 100),
		RateLimitImagesPerHour: getEnvInt("RATE_LIMIT_IMAGES_PER_HOUR", 20),

		OtelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "webchat"),
		OtelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelInsecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OtelSampleRatio: getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
	}
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
