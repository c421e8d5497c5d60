package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"knowbase/internal/chunker"
	"knowbase/internal/config"
	"knowbase/internal/embedder"
	"knowbase/internal/kb"
	"knowbase/internal/storage/postgres"
	"knowbase/internal/storage/sqlite"
)

var (
	flagConfig  string
	flagEnvFile string
)

var rootCmd = &cobra.Command{
	Use:   "knowbase",
	Short: "Document knowledge base with vector similarity search",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "knowbase.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "env file with credentials")
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(flagEnvFile); err != nil {
		return nil, err
	}
	return config.Load(flagConfig)
}

// openManager builds the knowledge-base manager from the configured
// backends. The first enabled backend receives writes.
func openManager(cfg *config.Config) (*kb.Manager, error) {
	m := kb.NewManager()

	if cfg.Storage.Postgres.Enabled {
		url := config.DatabaseURL()
		if url == "" {
			return nil, fmt.Errorf("postgres backend enabled but %s is not set", config.EnvDatabaseURL)
		}
		pg, err := postgres.New(postgres.Config{
			URL:       url,
			Dimension: cfg.Embedder.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		m.AddBackend(pg)
	}

	if cfg.Storage.SQLite.Enabled {
		lite, err := sqlite.Open(sqlite.Config{
			Path:      cfg.Storage.SQLite.Path,
			Dimension: cfg.Embedder.Dimension,
		})
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		m.AddBackend(lite)
	}

	if len(m.Backends()) == 0 {
		return nil, fmt.Errorf("no storage backend enabled in %s", flagConfig)
	}
	return m, nil
}

func newEmbedder(cfg *config.Config) *embedder.Client {
	return embedder.New(embedder.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    config.OpenAIAPIKey(),
		Model:     cfg.Embedder.Model,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
	})
}

// newRegistry maps file extensions to the configured splitting strategy.
// "standard" is the recursive character splitter, "semantic" groups whole
// sentences.
func newRegistry(cfg *config.Config) *chunker.Registry {
	var splitter chunker.Splitter
	if cfg.Chunking.DefaultStrategy == "semantic" {
		splitter = chunker.NewSentenceSplitter(cfg.Chunking.SentencesPerChunk, cfg.Chunking.OverlapSentences)
	} else {
		splitter = chunker.NewRecursiveSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	}

	reg := chunker.NewRegistry()
	for _, ext := range []string{"md", "markdown", "txt", "rst", "adoc"} {
		reg.Register(ext, splitter)
	}
	reg.SetFallback(splitter)
	return reg
}
