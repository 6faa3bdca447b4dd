// Package config provides configuration loading and structs for the pravo pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Extract   ExtractConfig   `yaml:"extract"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Format        string `yaml:"format"`
	ProgressEvery int    `yaml:"progress_every"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects and tunes the document/chunk store.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DatabasePath    string        `yaml:"database_path"`
	DSN             string        `yaml:"dsn"`
	VectorIndexPath string        `yaml:"vector_index_path"`
	Timeout         time.Duration `yaml:"timeout"`
	CommitBatchSize int           `yaml:"commit_batch_size"`
	MaxConns        int32         `yaml:"max_conns"`
	// IVFLists is the pgvector ivfflat lists parameter; 0 derives it from the row count.
	IVFLists int `yaml:"ivf_lists"`
	// IVFProbes is the number of lists scanned per query; 0 uses sqrt(lists).
	IVFProbes int `yaml:"ivf_probes"`
}

// VectorConfig tunes the in-process index used with the sqlite driver.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
	Lists     int    `yaml:"lists"`
	Probes    int    `yaml:"probes"`
	// TrainThreshold is the vector count below which search stays exact.
	TrainThreshold int `yaml:"train_threshold"`
}

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// EmbeddingConfig holds embedding provider, batching, rate-limit and retry settings.
type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	Dimensions   int           `yaml:"dimensions"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	BatchSize    int           `yaml:"batch_size"`
	Workers      int           `yaml:"workers"`
	RateLimitRPM int           `yaml:"rate_limit_rpm"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       time.Duration `yaml:"jitter"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheSize    int           `yaml:"cache_size"`
}

// ChunkingConfig holds chunker settings. ChunkSize is in tokens.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// Overlap is a pointer so an explicit 0 disables overlap instead of
	// taking the default.
	Overlap      *float64 `yaml:"overlap"`
	Tokenizer    string   `yaml:"tokenizer"`
	MinTextChars int      `yaml:"min_text_chars"`
	Workers      int      `yaml:"workers"`
}

// OverlapRatio returns the configured overlap as a fraction of chunk size.
func (c *ChunkingConfig) OverlapRatio() float64 {
	if c.Overlap == nil {
		return defaultOverlap
	}
	return *c.Overlap
}

// ExtractConfig holds extractor settings.
type ExtractConfig struct {
	Workers            int      `yaml:"workers"`
	OCRMinChars        int      `yaml:"ocr_min_chars"`
	OCRMinCharsPerPage int      `yaml:"ocr_min_chars_per_page"`
	Source             string   `yaml:"source"`
	Extensions         []string `yaml:"extensions"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	TopK    int `yaml:"top_k"`
	MaxTopK int `yaml:"max_top_k"`
	// SimilarityThreshold is a pointer so an explicit 0 survives defaulting.
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
}

// Threshold returns the configured similarity threshold.
func (s *SearchConfig) Threshold() float64 {
	if s.SimilarityThreshold == nil {
		return defaultSimilarityThreshold
	}
	return *s.SimilarityThreshold
}

// WatchConfig holds directory watch settings for continuous ingestion.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies .env and environment
// overrides, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// LoadOrDefault behaves like Load but falls back to defaults plus environment
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		wd = "."
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	loadDotEnv(configDir)
	ApplyEnv(cfg)
	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the config directory and the working directory.
// Variables already present in the environment win.
func loadDotEnv(configDir string) {
	candidates := []string{filepath.Join(configDir, ".env"), ".env"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// ApplyEnv overrides credentials and connection settings from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("PRAVO_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("PRAVO_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := strings.ToLower(os.Getenv("PRAVO_DEBUG")); v == "1" || v == "true" {
		cfg.Debug = true
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
