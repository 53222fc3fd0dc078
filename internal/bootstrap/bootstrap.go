// Package bootstrap builds the shared services from config for the server,
// worker and admin binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/blob"
	"github.com/suPer8Hu/webchat/internal/config"
	"github.com/suPer8Hu/webchat/internal/db"
	"github.com/suPer8Hu/webchat/internal/imagegen"
	"github.com/suPer8Hu/webchat/internal/logger"
	"gorm.io/gorm"
)

func NewLogger(cfg config.Config) (*logger.Logger, error) {
	return logger.New(logger.Options{
		Mode:     cfg.AppEnv,
		Level:    cfg.LogLevel,
		Redact:   cfg.LogRedaction,
		HashSalt: cfg.LogHashSalt,
	})
}

// OpenDB connects and migrates.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

func NewObjectStore(ctx context.Context, cfg config.Config) (blob.ObjectStore, error) {
	var store blob.ObjectStore
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "local":
		s, err := blob.NewLocalObjectStore(cfg.StorageRoot)
		if err != nil {
			return nil, err
		}
		store = s
	case "minio":
		s, err := blob.NewMinioObjectStore(blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND=%q", cfg.StorageBackend)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return store, nil
}

func NewFileStore(ctx context.Context, cfg config.Config, gdb *gorm.DB, log *logger.Logger) (*blob.Store, error) {
	objects, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return blob.NewStore(gdb, objects, log), nil
}

// NewRegistry registers Ollama, plus OpenRouter when an API key is set. Requests
// without a provider use AI_PROVIDER.
func NewRegistry(cfg config.Config) (*ai.Registry, error) {
	reg := ai.NewRegistry(cfg.AIProvider)
	opts := ai.SamplingOptions{
		NumPredict:  cfg.OllamaNumPredict,
		Temperature: cfg.OllamaTemperature,
		TopK:        cfg.OllamaTopK,
		TopP:        cfg.OllamaTopP,
	}

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model, opts), nil
	})

	if strings.TrimSpace(cfg.OpenRouterAPIKey) != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
			if model == "" {
				model = cfg.OpenRouterModel
			}
			return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
				cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, opts), nil
		})
	}

	if _, err := reg.Get(context.Background(), "", ""); err != nil {
		return nil, fmt.Errorf("AI_PROVIDER=%q, registered [%s]: %w", cfg.AIProvider, strings.Join(reg.Names(), ", "), err)
	}
	return reg, nil
}

// NewImageGateway returns the gateway and its SD discovery; the caller runs
// discovery.Run in the background.
func NewImageGateway(ctx context.Context, cfg config.Config, files imagegen.FileSaver, log *logger.Logger) (*imagegen.Gateway, *imagegen.Discovery) {
	sd := imagegen.NewSDClient()
	discovery := imagegen.NewDiscovery(sd, cfg.SDBaseURLs, cfg.SDHealthInterval, log)
	discovery.Refresh(ctx)

	var ollama *imagegen.OllamaImageClient
	if cfg.OllamaImageModel != "" {
		ollama = imagegen.NewOllamaImageClient(cfg.OllamaBaseURL, cfg.OllamaImageModel)
	}
	return imagegen.NewGateway(ollama, sd, discovery, files, log), discovery
}
