package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator" mapstructure:"evaluator"`
	Embed      EmbedConfig      `yaml:"embed" mapstructure:"embed"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Chunker    ChunkerConfig    `yaml:"chunker" mapstructure:"chunker"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	FastModel string `yaml:"fast_model" mapstructure:"fast_model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	EmbedModel string `yaml:"embed_model" mapstructure:"embed_model"`
}

// EvaluatorConfig selects the two relevance evaluators. They are expected to
// differ in model (and ideally provider) so their errors are uncorrelated.
type EvaluatorConfig struct {
	PrimaryProvider   string `yaml:"primary_provider" mapstructure:"primary_provider"`
	PrimaryModel      string `yaml:"primary_model" mapstructure:"primary_model"`
	SecondaryProvider string `yaml:"secondary_provider" mapstructure:"secondary_provider"`
	SecondaryModel    string `yaml:"secondary_model" mapstructure:"secondary_model"`
}

// EmbedConfig selects the embedding backend used for indexing and retrieval.
type EmbedConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// JinaConfig holds Jina AI settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	APIBaseURL    string `yaml:"api_base_url" mapstructure:"api_base_url"`
	EmbedModel    string `yaml:"embed_model" mapstructure:"embed_model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SearchConfig configures the online_search route.
type SearchConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxResults  int    `yaml:"max_results" mapstructure:"max_results"`
}

// ResolverConfig configures material-name resolution.
type ResolverConfig struct {
	AliasTable string  `yaml:"alias_table" mapstructure:"alias_table"`
	Threshold  float64 `yaml:"threshold" mapstructure:"threshold"`
}

// ChunkerConfig configures document chunking at index time.
type ChunkerConfig struct {
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
}

// RetrievalConfig configures tool-document retrieval.
type RetrievalConfig struct {
	ToolDoc      string `yaml:"tool_doc" mapstructure:"tool_doc"`
	TableRecords string `yaml:"table_records" mapstructure:"table_records"`
	TopK         int    `yaml:"top_k" mapstructure:"top_k"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures query orchestration.
type PipelineConfig struct {
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
	RecordRuns  bool `yaml:"record_runs" mapstructure:"record_runs"`
}

// LLMConfig configures outbound language-model calls.
type LLMConfig struct {
	CallTimeoutSecs int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	MaxTokens       int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
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

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; it only seeds the process environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CUTPARAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Credential keys are registered so env-only values unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("gemini.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.embed_model", "gemini-embedding-001")
	v.SetDefault("evaluator.primary_provider", "anthropic")
	v.SetDefault("evaluator.primary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("evaluator.secondary_provider", "anthropic")
	v.SetDefault("evaluator.secondary_model", "claude-haiku-4-5-20251001")
	v.SetDefault("embed.provider", "gemini")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.api_base_url", "https://api.jina.ai/v1")
	v.SetDefault("jina.embed_model", "jina-embeddings-v3")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("search.provider", "jina")
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("resolver.alias_table", "data/materials.json")
	v.SetDefault("resolver.threshold", 80)
	v.SetDefault("chunker.max_tokens", 1000)
	v.SetDefault("chunker.encoding", "cl100k_base")
	v.SetDefault("retrieval.tool_doc", "data/tools.md")
	v.SetDefault("retrieval.table_records", "data/tools.tables.json")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cutting-params.db")
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.record_runs", true)
	v.SetDefault("llm.call_timeout_secs", 60)
	v.SetDefault("llm.rate_per_sec", 5)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks value ranges and enumerations, and the credentials the
// given command mode needs. Modes: recommend, serve, index, runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Resolver.Threshold < 0 || c.Resolver.Threshold > 100 {
		errs = append(errs, fmt.Sprintf("resolver.threshold must be between 0 and 100, got %v", c.Resolver.Threshold))
	}
	if c.Chunker.MaxTokens <= 0 {
		errs = append(errs, "chunker.max_tokens must be > 0")
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "retrieval.top_k must be > 0")
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 32 {
		errs = append(errs, fmt.Sprintf("pipeline.concurrency must be between 1 and 32, got %d", c.Pipeline.Concurrency))
	}
	if c.LLM.CallTimeoutSecs <= 0 {
		errs = append(errs, "llm.call_timeout_secs must be > 0")
	}
	errs = appendOneOf(errs, "store.driver", c.Store.Driver, "sqlite", "postgres", "memory")
	errs = appendOneOf(errs, "search.provider", c.Search.Provider, "jina", "perplexity")
	errs = appendOneOf(errs, "embed.provider", c.Embed.Provider, "gemini", "jina")
	errs = appendOneOf(errs, "evaluator.primary_provider", c.Evaluator.PrimaryProvider, "anthropic", "gemini")
	errs = appendOneOf(errs, "evaluator.secondary_provider", c.Evaluator.SecondaryProvider, "anthropic", "gemini")

	if c.Store.DatabaseURL == "" && c.Store.Driver != "memory" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "recommend", "serve":
		errs = c.requireLLMKeys(errs)
		errs = c.requireEmbedKey(errs)
		switch c.Search.Provider {
		case "jina":
			if c.Jina.Key == "" {
				errs = append(errs, "jina.key is required for search.provider=jina")
			}
		case "perplexity":
			if c.Perplexity.Key == "" {
				errs = append(errs, "perplexity.key is required for search.provider=perplexity")
			}
		}
		if c.Resolver.AliasTable == "" {
			errs = append(errs, "resolver.alias_table is required")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, fmt.Sprintf("server.port must be > 0 and <= 65535, got %d", c.Server.Port))
		}
	case "index":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		errs = c.requireEmbedKey(errs)
	case "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}

	if c.Evaluator.PrimaryProvider == c.Evaluator.SecondaryProvider && c.Evaluator.PrimaryModel == c.Evaluator.SecondaryModel {
		zap.L().Warn("config: primary and secondary evaluators share provider and model",
			zap.String("provider", c.Evaluator.PrimaryProvider),
			zap.String("model", c.Evaluator.PrimaryModel),
		)
	}
	return nil
}

func (c *Config) requireLLMKeys(errs []string) []string {
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if (c.Evaluator.PrimaryProvider == "gemini" || c.Evaluator.SecondaryProvider == "gemini") && c.Gemini.Key == "" {
		errs = append(errs, "gemini.key is required for gemini evaluators")
	}
	return errs
}

func (c *Config) requireEmbedKey(errs []string) []string {
	switch c.Embed.Provider {
	case "gemini":
		if c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required for embed.provider=gemini")
		}
	case "jina":
		if c.Jina.Key == "" {
			errs = append(errs, "jina.key is required for embed.provider=jina")
		}
	}
	return errs
}

func appendOneOf(errs []string, key, value string, allowed ...string) []string {
	for _, a := range allowed {
		if value == a {
			return errs
		}
	}
	return append(errs, fmt.Sprintf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value))
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
