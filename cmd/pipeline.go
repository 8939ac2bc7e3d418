package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spigell/doc-reviewer/internal/ai"
	"github.com/spigell/doc-reviewer/internal/ai/anthropic"
	"github.com/spigell/doc-reviewer/internal/ai/gemini"
	"github.com/spigell/doc-reviewer/internal/ai/openai"
	"github.com/spigell/doc-reviewer/internal/cache"
	"github.com/spigell/doc-reviewer/internal/extract"
	"github.com/spigell/doc-reviewer/internal/logger"
	"github.com/spigell/doc-reviewer/internal/review"
	"github.com/spigell/doc-reviewer/internal/secrets"
	"github.com/spigell/doc-reviewer/internal/server"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var providerKeyEnv = map[string]string{
	gemini.Provider:    "GEMINI_API_KEY",
	openai.Provider:    "OPENAI_API_KEY",
	anthropic.Provider: "ANTHROPIC_API_KEY",
}

// setup builds the logger, config and pipeline shared by all commands.
// The returned cleanup releases external connections.
func setup(ctx context.Context) (*zap.Logger, *Config, *review.Service, func(), error) {
	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating a logger: %w", err)
	}

	config, err := getConfig()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("getting a config: %w", err)
	}

	log.Debug("starting with config",
		zap.String("provider", config.AI.Provider),
		zap.String("model", config.AI.Model),
		zap.String("cache", config.Cache.Backend),
		zap.Int("max_attempts", config.Retry.MaxAttempts),
		zap.Duration("base_delay", config.Retry.BaseDelay),
	)

	backend, err := newBackend(ctx, config.AI)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store, closeStore, err := newStore(ctx, config.Cache, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	svc := review.New(backend, store, config.pipelineOptions(), log)

	cleanup := func() {
		closeStore()
		_ = log.Sync()
	}

	return log, config, svc, cleanup, nil
}

func newBackend(ctx context.Context, cfg *AIConfig) (ai.Backend, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider == "" {
		provider = gemini.Provider
	}

	apiKey, err := resolveAPIKey(provider, cfg)
	if err != nil {
		return nil, err
	}

	switch provider {
	case gemini.Provider:
		return gemini.NewGenerator(ctx, apiKey, cfg.Model)
	case openai.Provider:
		return openai.New(apiKey, cfg.Model, cfg.BaseURL)
	case anthropic.Provider:
		return anthropic.New(apiKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// resolveAPIKey prefers ai.api-key-file, then ai.api-key, then the provider
// specific environment variable.
func resolveAPIKey(provider string, cfg *AIConfig) (string, error) {
	env, known := providerKeyEnv[provider]
	if !known {
		return "", fmt.Errorf("unsupported ai provider: %s", provider)
	}

	return secrets.Load(secrets.Source{
		Name:  provider + " api key",
		File:  cfg.APIKeyFile,
		Value: cfg.APIKey,
		Env:   env,
	})
}

// newStore opens the configured cache. Closing a memory store logs its
// hit and miss counters.
func newStore(ctx context.Context, cfg *CacheConfig, log *zap.Logger) (cache.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		store := cache.NewMemory(cfg.TTL)
		log.Debug("memory cache ready", zap.Duration("ttl", store.TTL()))
		return store, func() {
			stats := store.Stats()
			log.Debug("memory cache stats",
				zap.Int64("hits", stats.Hits),
				zap.Int64("misses", stats.Misses),
				zap.Int("entries", stats.Entries),
			)
		}, nil
	case "redis":
		store, err := cache.ConnectRedis(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// readDocument reads path, or stdin when path is "-".
func readDocument(ctx context.Context, path string, stdin io.Reader) (string, string, error) {
	if path == "-" {
		text, err := extract.Reader(stdin, "stdin.txt")
		return text, "stdin", err
	}

	text, err := extract.File(ctx, path)
	return text, path, err
}

func printEnvelope(w io.Writer, data any, err error) error {
	env := server.Envelope{Success: err == nil, Data: data}
	if err != nil {
		env.Error = review.MessageOf(err)
		env.Kind = string(review.KindOf(err))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if encErr := encoder.Encode(env); encErr != nil {
		return fmt.Errorf("printing result: %w", encErr)
	}

	return err
}
