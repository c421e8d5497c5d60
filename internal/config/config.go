// Package config loads the application configuration: a YAML file for
// structural settings and the environment for endpoints and credentials.
// The resulting Config is built once at startup and handed to constructors;
// operations never read ambient state.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names. Only endpoints and credentials live in the
// environment; everything else is file configuration.
const (
	EnvDatabaseURL         = "KNOWBASE_DATABASE_URL"
	EnvDatabaseReadOnlyURL = "KNOWBASE_DATABASE_RO_URL"
	EnvOpenAIAPIKey        = "OPENAI_API_KEY"
)

// PostgresConfig selects the Postgres storage backend.
type PostgresConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SQLiteConfig selects the local SQLite storage backend.
type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig lists the configured storage backends.
type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// EmbedderConfig configures the embeddings client.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ChunkingConfig configures the splitting strategies.
type ChunkingConfig struct {
	DefaultStrategy   string `yaml:"default_strategy"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// Config is the root application configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Chunking ChunkingConfig `yaml:"chunking"`
}

// Load reads the configuration from path. A missing file yields the
// defaults; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadEnv loads environment files before the environment is read. Missing
// files are fine; the process environment always wins over file values.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// DatabaseURL returns the privileged connection string from the environment.
func DatabaseURL() string { return os.Getenv(EnvDatabaseURL) }

// DatabaseReadOnlyURL returns the read-only connection string from the
// environment. It is intended for external read-only consumers; the storage
// backend itself always connects as the privileged principal.
func DatabaseReadOnlyURL() string { return os.Getenv(EnvDatabaseReadOnlyURL) }

// OpenAIAPIKey returns the embeddings API key from the environment.
func OpenAIAPIKey() string { return os.Getenv(EnvOpenAIAPIKey) }

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if !cfg.Storage.Postgres.Enabled && !cfg.Storage.SQLite.Enabled {
		cfg.Storage.SQLite.Enabled = true
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = defaultSQLitePath()
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}
	if cfg.Embedder.Dimension <= 0 {
		cfg.Embedder.Dimension = 1536
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.TimeoutSecs <= 0 {
		cfg.Embedder.TimeoutSecs = 120
	}
	if cfg.Chunking.DefaultStrategy == "" {
		cfg.Chunking.DefaultStrategy = "standard"
	}
	if cfg.Chunking.ChunkSize <= 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap <= 0 {
		cfg.Chunking.ChunkOverlap = 200
	}
	if cfg.Chunking.SentencesPerChunk <= 0 {
		cfg.Chunking.SentencesPerChunk = 5
	}
	if cfg.Chunking.OverlapSentences <= 0 {
		cfg.Chunking.OverlapSentences = 1
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "knowledge.db"
	}
	return home + "/.knowbase/knowledge.db"
}
