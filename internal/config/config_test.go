package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("CHAT_CONTEXT_WINDOW_SIZE", "")
	t.Setenv("SD_BASE_URLS", "")

	cfg := Load()

	assert.Equal(t, "sqlite:data/webchat.db", cfg.DBDSN)
	assert.Equal(t, 20, cfg.ChatContextWindowSize)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaBaseURL)
	assert.Len(t, cfg.SDBaseURLs, 3)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_CONTEXT_WINDOW_SIZE", "8")
	t.Setenv("SD_BASE_URLS", " http://sd:7860 , ,http://sd2:7860")
	t.Setenv("SD_HEALTH_INTERVAL", "5s")
	t.Setenv("COOKIE_SECURE", "yes")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("OLLAMA_TOP_P", "0.5")

	cfg := Load()

	assert.Equal(t, 8, cfg.ChatContextWindowSize)
	assert.Equal(t, []string{"http://sd:7860", "http://sd2:7860"}, cfg.SDBaseURLs)
	assert.Equal(t, 5*time.Second, cfg.SDHealthInterval)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.InDelta(t, 0.5, cfg.OllamaTopP, 1e-9)
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("SESSION_TTL", "forever")

	cfg := Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}
