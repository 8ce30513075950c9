// Package config provides application configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables (CHATSTACK_ prefix)
//  2. Config file (chatstack.yaml)
//  3. Defaults
//
// Provider API keys are accepted from the environment only and are never
// written back to disk or logged.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidTemperature indicates the sampling temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the completion token limit is not positive.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidChunkSize indicates the chunker token budget is not positive.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidOverlap indicates the chunk overlap is negative or exceeds the budget.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidConcurrency indicates the worker pool size is not positive.
	ErrInvalidConcurrency = errors.New("invalid worker concurrency")

	// ErrInvalidSimilarity indicates the similarity floor is outside [0,1].
	ErrInvalidSimilarity = errors.New("invalid similarity floor")
)

// Postgres holds database connection settings.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders a libpq-style connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Providers holds per-provider API keys. Keys are opaque strings sourced from
// the environment; components must never persist or log them.
type Providers struct {
	OpenAIKey    string `mapstructure:"openai_key"`
	AnthropicKey string `mapstructure:"anthropic_key"`
	GoogleKey    string `mapstructure:"google_key"`
}

// Chat holds defaults for chat turns.
type Chat struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Chunker holds text-splitting defaults.
type Chunker struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// Retrieval holds similarity-search defaults.
type Retrieval struct {
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
}

// Worker holds ingestion worker settings.
type Worker struct {
	Concurrency   int `mapstructure:"concurrency"`
	JobsPerMinute int `mapstructure:"jobs_per_minute"`
	MaxRetries    int `mapstructure:"max_retries"`
	EmbedBatch    int `mapstructure:"embed_batch"`
}

// Config is the root application configuration.
type Config struct {
	LogLevel  string    `mapstructure:"log_level"`
	LogJSON   bool      `mapstructure:"log_json"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Providers Providers `mapstructure:"providers"`
	Chat      Chat      `mapstructure:"chat"`
	Chunker   Chunker   `mapstructure:"chunker"`
	Retrieval Retrieval `mapstructure:"retrieval"`
	Worker    Worker    `mapstructure:"worker"`
}

// Load reads configuration from the optional file at path plus the
// environment, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "chatstack")
	v.SetDefault("postgres.database", "chatstack")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("chat.model", "gpt-4o-mini")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 1024)
	v.SetDefault("chunker.max_tokens", 500)
	v.SetDefault("chunker.overlap_tokens", 100)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_similarity", 0.7)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.jobs_per_minute", 10)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.embed_batch", 100)

	v.SetEnvPrefix("CHATSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required values, returning wrapped sentinel
// errors so callers can match with errors.Is.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0,2])", ErrInvalidTemperature, c.Chat.Temperature)
	}
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.Chat.MaxTokens)
	}
	if c.Chunker.MaxTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.Chunker.MaxTokens)
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxTokens {
		return fmt.Errorf("%w: %d", ErrInvalidOverlap, c.Chunker.OverlapTokens)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, c.Worker.Concurrency)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSimilarity, c.Retrieval.MinSimilarity)
	}
	return nil
}
