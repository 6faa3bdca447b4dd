package config

import "time"

const (
	defaultSimilarityThreshold = 0.7
	defaultOverlap             = 0.15
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.ProgressEvery == 0 {
		cfg.Log.ProgressEvery = 100
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/pravo.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "./data/vectors.ivf"
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = 30 * time.Second
	}
	if cfg.Storage.CommitBatchSize == 0 {
		cfg.Storage.CommitBatchSize = 100
	}
	if cfg.Storage.MaxConns == 0 {
		cfg.Storage.MaxConns = 8
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "ivf"
	}
	if cfg.Vector.TrainThreshold == 0 {
		cfg.Vector.TrainThreshold = 5000
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-large"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 3072
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Embedding.RateLimitRPM == 0 {
		cfg.Embedding.RateLimitRPM = 60
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.BaseDelay == 0 {
		cfg.Embedding.BaseDelay = 4 * time.Second
	}
	if cfg.Embedding.MaxDelay == 0 {
		cfg.Embedding.MaxDelay = 60 * time.Second
	}
	if cfg.Embedding.Jitter == 0 {
		cfg.Embedding.Jitter = 500 * time.Millisecond
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 8000
	}
	if cfg.Chunking.Overlap == nil {
		o := defaultOverlap
		cfg.Chunking.Overlap = &o
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "cl100k_base"
	}
	if cfg.Chunking.MinTextChars == 0 {
		cfg.Chunking.MinTextChars = 100
	}
	if cfg.Chunking.Workers == 0 {
		cfg.Chunking.Workers = 4
	}
	if cfg.Extract.Workers == 0 {
		cfg.Extract.Workers = 4
	}
	if cfg.Extract.OCRMinChars == 0 {
		cfg.Extract.OCRMinChars = 100
	}
	if cfg.Extract.OCRMinCharsPerPage == 0 {
		cfg.Extract.OCRMinCharsPerPage = 50
	}
	if cfg.Extract.Source == "" {
		cfg.Extract.Source = "local"
	}
	if cfg.Extract.Extensions == nil {
		cfg.Extract.Extensions = []string{".pdf", ".html", ".htm", ".docx", ".txt"}
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.SimilarityThreshold == nil {
		t := defaultSimilarityThreshold
		cfg.Search.SimilarityThreshold = &t
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
