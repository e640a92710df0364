package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spigell/pds-matcher/internal/logger"
	"github.com/spigell/pds-matcher/internal/normalize"
	"github.com/spigell/pds-matcher/internal/ranking"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	app       = "pds-matcher"
	envPrefix = "PDS_MATCHER"
)

type Config struct {
	Taxonomy  *TaxonomyConfig   `mapstructure:"taxonomy"`
	Normalize normalize.Options `mapstructure:"normalize"`
	Ranking   ranking.Options   `mapstructure:"ranking"`
	AI        *AIConfig         `mapstructure:"ai"`
	Cache     *CacheConfig      `mapstructure:"cache"`
}

type TaxonomyConfig struct {
	Degrees       string `mapstructure:"degrees"`
	Eligibilities string `mapstructure:"eligibilities"`
	Strict        bool   `mapstructure:"strict"`
}

type AIConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`
	Embeddings bool          `mapstructure:"embeddings"`
	Generation bool          `mapstructure:"generation"`
	Gemini     *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string        `mapstructure:"api-key"`
	APIKeyFile        string        `mapstructure:"api-key-file"`
	Model             string        `mapstructure:"model"`
	EmbeddingModel    string        `mapstructure:"embedding-model"`
	Temperature       *float32      `mapstructure:"temperature"`
	MaxRetries        int           `mapstructure:"max-retries"`
	MaxRetryDelay     time.Duration `mapstructure:"max-retry-delay"`
	RequestsPerMinute int           `mapstructure:"requests-per-minute"`
	MaxLogLength      int           `mapstructure:"max-log-length"`
}

type CacheConfig struct {
	Backend string       `mapstructure:"backend"`
	Redis   *RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	PasswordFile string        `mapstructure:"password-file"`
	DB           int           `mapstructure:"db"`
	TTL          time.Duration `mapstructure:"ttl"`
	Prefix       string        `mapstructure:"prefix"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "pds-matcher normalizes personal data sheet entries and ranks applicants against job openings",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Options{
		JSON:  viper.GetBool("json"),
		Debug: viper.GetBool("debug"),
	})
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is pds-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("taxonomy.degrees", "")
	v.SetDefault("taxonomy.eligibilities", "")
	v.SetDefault("taxonomy.strict", true)

	v.SetDefault("normalize.min-input-length", normalize.DefaultMinInputLength)
	v.SetDefault("normalize.embedding-threshold", normalize.DefaultEmbeddingThreshold)
	v.SetDefault("normalize.low-confidence-threshold", normalize.DefaultLowConfidenceThreshold)
	v.SetDefault("normalize.provider-timeout", normalize.DefaultProviderTimeout)
	v.SetDefault("normalize.include-aliases", false)

	weights := ranking.DefaultWeights()
	v.SetDefault("ranking.weights.education", weights.Education)
	v.SetDefault("ranking.weights.experience", weights.Experience)
	v.SetDefault("ranking.weights.skills", weights.Skills)
	v.SetDefault("ranking.weights.eligibility", weights.Eligibility)
	v.SetDefault("ranking.concurrency", ranking.DefaultConcurrency)
	v.SetDefault("ranking.experience-curvature", ranking.DefaultExperienceCurvature)
	v.SetDefault("ranking.skill-similarity-threshold", ranking.DefaultSkillSimilarityThreshold)
	v.SetDefault("ranking.eligibility-similarity-threshold", ranking.DefaultEligibilitySimilarityThreshold)
	v.SetDefault("ranking.eligibility-any-of", false)
	v.SetDefault("ranking.ai-reasoning", false)
	v.SetDefault("ranking.provider-timeout", ranking.DefaultProviderTimeout)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.embeddings", true)
	v.SetDefault("ai.generation", true)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.embedding-model", "gemini-embedding-001")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-retry-delay", 10*time.Second)
	v.SetDefault("ai.gemini.requests-per-minute", 60)
	v.SetDefault("ai.gemini.max-log-length", 200)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.password-file", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl", 30*24*time.Hour)
	v.SetDefault("cache.redis.prefix", "pds-matcher:embedding:")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Defaults and the environment are enough to run; only an explicit or broken file is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the engines would refuse at construction time.
func (c *Config) Validate() error {
	if !c.Ranking.Weights.IsZero() {
		if err := c.Ranking.Weights.Validate(); err != nil {
			return fmt.Errorf("ranking.weights: %w", err)
		}
	}

	for name, v := range map[string]float64{
		"normalize.embedding-threshold":            c.Normalize.EmbeddingThreshold,
		"normalize.low-confidence-threshold":       c.Normalize.LowConfidenceThreshold,
		"ranking.skill-similarity-threshold":       c.Ranking.SkillSimilarityThreshold,
		"ranking.eligibility-similarity-threshold": c.Ranking.EligibilitySimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}

	if c.AI != nil && c.AI.Enabled {
		provider := strings.ToLower(strings.TrimSpace(c.AI.Provider))
		if provider != "" && provider != "gemini" {
			return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
		}
		if c.AI.Gemini == nil {
			return errors.New("ai.gemini configuration is required when ai is enabled")
		}
	}

	if c.Cache != nil {
		switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
		case "", "none", "memory", "redis":
		default:
			return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
		}
	}

	return nil
}
