package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/ai/gemini"
	"github.com/spigell/pds-matcher/internal/cache"
	"github.com/spigell/pds-matcher/internal/normalize"
	"github.com/spigell/pds-matcher/internal/ranking"
	"github.com/spigell/pds-matcher/internal/secrets"
	"github.com/spigell/pds-matcher/internal/taxonomy"

	"go.uber.org/zap"
)

// runtime holds the engines shared by the commands.
type runtime struct {
	taxonomies *taxonomy.Set
	normalizer *normalize.Engine
	ranker     *ranking.Engine
	closers    []func() error
}

func (r *runtime) Close() {
	for _, closer := range r.closers {
		_ = closer()
	}
}

func loadTaxonomies(cfg *TaxonomyConfig) (*taxonomy.Set, error) {
	opts := taxonomy.LoadOptions{Strict: true}
	if cfg != nil {
		opts = taxonomy.LoadOptions{
			DegreesPath:       cfg.Degrees,
			EligibilitiesPath: cfg.Eligibilities,
			Strict:            cfg.Strict,
		}
	}
	return taxonomy.LoadSet(opts)
}

func newRuntime(ctx context.Context, config *Config, logger *zap.Logger) (*runtime, error) {
	set, err := loadTaxonomies(config.Taxonomy)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomies: %w", err)
	}
	logger.Info("taxonomies loaded",
		zap.Int("degrees", set.Degrees.Len()),
		zap.Int("degree_aliases", set.Degrees.Aliases()),
		zap.Int("eligibilities", set.Eligibilities.Len()),
		zap.Int("eligibility_aliases", set.Eligibilities.Aliases()),
	)

	rt := &runtime{taxonomies: set}

	generator, embedder, err := newAIProviders(ctx, config, logger, rt)
	if err != nil {
		logger.Warn("continuing without ai providers", zap.Error(err))
		generator, embedder = nil, nil
	}

	rt.normalizer = normalize.New(set, embedder, generator, config.Normalize, logger.Named("normalize"))
	if embedder != nil {
		warmNormalizer(ctx, rt.normalizer, logger)
	}

	rt.ranker, err = ranking.New(rt.normalizer, embedder, generator, config.Ranking, logger.Named("ranking"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("building ranking engine: %w", err)
	}

	return rt, nil
}

// newAIProviders returns nil interfaces for every provider that is disabled.
func newAIProviders(ctx context.Context, config *Config, logger *zap.Logger, rt *runtime) (ai.Generator, ai.Embedder, error) {
	cfg := config.AI
	if cfg == nil || !cfg.Enabled {
		return nil, nil, nil
	}

	if cfg.Gemini == nil {
		return nil, nil, fmt.Errorf("gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	client, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:            apiKey,
		Model:             cfg.Gemini.Model,
		EmbeddingModel:    cfg.Gemini.EmbeddingModel,
		Temperature:       cfg.Gemini.Temperature,
		MaxRetries:        cfg.Gemini.MaxRetries,
		MaxRetryDelay:     cfg.Gemini.MaxRetryDelay,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		MaxLogLength:      cfg.Gemini.MaxLogLength,
		Logger:            logger.Named("gemini"),
	})
	if err != nil {
		return nil, nil, err
	}

	var generator ai.Generator
	if cfg.Generation {
		generator = client
	}

	var embedder ai.Embedder
	if cfg.Embeddings {
		store, err := newCacheStore(ctx, config.Cache, logger, rt)
		if err != nil {
			return nil, nil, err
		}
		if store != nil {
			embedder = cache.NewEmbedder(client, store, client.EmbeddingModel(), logger.Named("cache"))
		} else {
			embedder = client
		}
	}

	logger.Info("ai providers ready",
		zap.String("generation_model", ai.ModelOf(generator)),
		zap.String("embedding_model", ai.EmbeddingModelOf(embedder)),
	)

	return generator, embedder, nil
}

// warmNormalizer builds the embedding label indexes before the first request. A failure
// leaves them to be built on first use.
func warmNormalizer(ctx context.Context, engine *normalize.Engine, logger *zap.Logger) {
	if err := engine.Warm(ctx); err != nil {
		logger.Warn("embedding label index not built at startup", zap.Error(err))
		return
	}
	logger.Debug("embedding label index built at startup")
}

// newCacheStore returns nil when caching is disabled.
func newCacheStore(ctx context.Context, cfg *CacheConfig, logger *zap.Logger, rt *runtime) (cache.Store, error) {
	backend := "memory"
	if cfg != nil {
		backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	}

	switch backend {
	case "none":
		return nil, nil
	case "", "memory":
		return cache.NewMemory(), nil
	case "redis":
		opts := cache.RedisOptions{}
		if cfg.Redis != nil {
			password, err := redisPassword(cfg.Redis)
			if err != nil {
				return nil, err
			}
			opts = cache.RedisOptions{
				Addr:     cfg.Redis.Addr,
				Password: password,
				DB:       cfg.Redis.DB,
				TTL:      cfg.Redis.TTL,
				Prefix:   cfg.Redis.Prefix,
			}
		}
		store := cache.NewRedis(ctx, opts, logger.Named("redis"))
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}

func redisPassword(cfg *RedisConfig) (string, error) {
	if strings.TrimSpace(cfg.Password) == "" && strings.TrimSpace(cfg.PasswordFile) == "" {
		return "", nil
	}
	return secrets.Load(secrets.Source{
		Name:  "redis password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
	})
}
