package config

import (
	"fmt"

	"github.com/hyperjump/pravo/internal/models"
)

// Validate checks settings every stage depends on.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fatalf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if o := c.Chunking.OverlapRatio(); o < 0 || o > 0.5 {
		return fatalf("chunking.overlap must be within [0, 0.5], got %v", o)
	}
	switch c.Chunking.Tokenizer {
	case "cl100k_base", "o200k_base", "words":
	default:
		return fatalf("chunking.tokenizer %q is not supported (use cl100k_base, o200k_base or words)", c.Chunking.Tokenizer)
	}
	if t := c.Search.Threshold(); t < -1 || t > 1 {
		return fatalf("search.similarity_threshold must be within [-1, 1], got %v", t)
	}
	if c.Embedding.Dimensions <= 0 {
		return fatalf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// ValidateEmbedding checks that an embedding provider can be constructed.
func (c *Config) ValidateEmbedding() error {
	switch c.Embedding.Provider {
	case ProviderMock:
		return nil
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fatalf("no embedding API credential: set OPENAI_API_KEY (or embedding.api_key), or use embedding.provider: mock for offline runs")
		}
	default:
		return fatalf("unknown embedding.provider %q (use openai or mock)", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.RateLimitRPM <= 0 {
		return fatalf("embedding.batch_size and embedding.rate_limit_rpm must be positive")
	}
	return nil
}

// ValidateStorage checks that a storage backend can be opened.
func (c *Config) ValidateStorage() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DatabasePath == "" {
			return fatalf("storage.database_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fatalf("no storage connection string: set DATABASE_URL (or storage.dsn) for the postgres driver")
		}
	default:
		return fatalf("unknown storage.driver %q (use sqlite or postgres)", c.Storage.Driver)
	}
	return nil
}

func fatalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{models.ErrFatal}, args...)...)
}
