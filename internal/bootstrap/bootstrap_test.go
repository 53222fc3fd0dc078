package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/config"
)

func TestNewRegistry_DefaultAndOptionalOpenRouter(t *testing.T) {
	cfg := config.Config{AIProvider: "ollama", OllamaModel: "llama3:latest"}

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama"}, reg.Names())

	p, err := reg.Get(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "llama3:latest", p.(ai.ModelNamer).ModelName())

	cfg.OpenRouterAPIKey = "key"
	cfg.OpenRouterModel = "openrouter/auto"
	reg, err = NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "openrouter"}, reg.Names())
}

func TestNewRegistry_UnknownDefaultFails(t *testing.T) {
	_, err := NewRegistry(config.Config{AIProvider: "openrouter"})
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
	assert.ErrorContains(t, err, "registered [ollama]")
}

func TestNewObjectStore_LocalAndUnsupported(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(ctx, config.Config{StorageBackend: "local", StorageRoot: t.TempDir() + "/files"})
	require.NoError(t, err)
	assert.NotNil(t, store)

	_, err = NewObjectStore(ctx, config.Config{StorageBackend: "s3"})
	assert.Error(t, err)
}
