package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Ranking   RankingConfig   `yaml:"ranking" mapstructure:"ranking"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	ExpandModel    string  `yaml:"expand_model" mapstructure:"expand_model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// RankingConfig configures the ranking engine. Defaults match the documented
// shortlist/pass/worker numbers; override via config.yaml or LEADRANK_* env.
type RankingConfig struct {
	Workers             int     `yaml:"workers" mapstructure:"workers"`
	ShortlistMin        int     `yaml:"shortlist_min" mapstructure:"shortlist_min"`
	ShortlistMax        int     `yaml:"shortlist_max" mapstructure:"shortlist_max"`
	ShortlistMultiplier int     `yaml:"shortlist_multiplier" mapstructure:"shortlist_multiplier"`
	RerankPasses        int     `yaml:"rerank_passes" mapstructure:"rerank_passes"`
	SinglePassThreshold int     `yaml:"single_pass_threshold" mapstructure:"single_pass_threshold"`
	CacheTTLHours       int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	InsertBatchSize     int     `yaml:"insert_batch_size" mapstructure:"insert_batch_size"`
	DefaultTopN         int     `yaml:"default_top_n" mapstructure:"default_top_n"`
	DefaultMinScore     float64 `yaml:"default_min_score" mapstructure:"default_min_score"`
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.expand_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_sec", 5.0)
	v.SetDefault("ranking.workers", 5)
	v.SetDefault("ranking.shortlist_min", 20)
	v.SetDefault("ranking.shortlist_max", 200)
	v.SetDefault("ranking.shortlist_multiplier", 8)
	v.SetDefault("ranking.rerank_passes", 2)
	v.SetDefault("ranking.single_pass_threshold", 20)
	v.SetDefault("ranking.cache_ttl_hours", 168)
	v.SetDefault("ranking.insert_batch_size", 500)
	v.SetDefault("ranking.default_top_n", 10)
	v.SetDefault("ranking.default_min_score", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
