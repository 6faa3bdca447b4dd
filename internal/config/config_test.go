package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/pravo/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "DATABASE_URL", "PRAVO_STORAGE_DRIVER", "PRAVO_EMBEDDING_PROVIDER", "PRAVO_DEBUG"} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
embedding:
  batch_size: 50
  base_delay: 2s
chunking:
  chunk_size: 200
  overlap: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Embedding.BatchSize != 50 || cfg.Embedding.BaseDelay != 2*time.Second {
		t.Errorf("embedding config: %+v", cfg.Embedding)
	}
	if cfg.Chunking.ChunkSize != 200 || cfg.Chunking.OverlapRatio() != 0.2 {
		t.Errorf("chunking config: %+v", cfg.Chunking)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/pravo.db"
watch:
  directories: ["./incoming"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "pravo.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "incoming")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], wantWatch)
	}
}

func TestLoad_dotEnvSuppliesCredentials(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0600); err != nil {
		t.Fatal(err)
	}
	env := "OPENAI_API_KEY=sk-from-dotenv\nDATABASE_URL=postgres://u:p@localhost/pravo\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv.Load does not override variables that already exist, so unset them.
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("DATABASE_URL")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("DATABASE_URL")
	})
	if cfg.Embedding.APIKey != "sk-from-dotenv" {
		t.Errorf("api key = %q", cfg.Embedding.APIKey)
	}
	if cfg.Storage.DSN != "postgres://u:p@localhost/pravo" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
	if err := cfg.ValidateStorage(); err != nil {
		t.Errorf("ValidateStorage: %v", err)
	}
}

func TestLoadOrDefault_missingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" || cfg.Embedding.Dimensions != 3072 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if cfg.Embedding.BatchSize != 100 || cfg.Embedding.RateLimitRPM != 60 || cfg.Embedding.MaxRetries != 3 {
		t.Errorf("default batching: %+v", cfg.Embedding)
	}
	if cfg.Chunking.OverlapRatio() != 0.15 || cfg.Chunking.Tokenizer != "cl100k_base" {
		t.Errorf("default chunking: %+v", cfg.Chunking)
	}
	if cfg.Search.TopK != 10 || cfg.Search.Threshold() != 0.7 {
		t.Errorf("default search: top_k=%d threshold=%v", cfg.Search.TopK, cfg.Search.Threshold())
	}
	if len(cfg.Extract.Extensions) != 5 {
		t.Errorf("extract extensions: got %v", cfg.Extract.Extensions)
	}
}

func TestApplyDefaults_keepsExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	cfg := &Config{Search: SearchConfig{SimilarityThreshold: &zero}}
	ApplyDefaults(cfg)
	if cfg.Search.Threshold() != 0 {
		t.Errorf("threshold = %v, want 0", cfg.Search.Threshold())
	}
}

func TestLoad_explicitZeroOverlap(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunking:
  overlap: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Chunking.OverlapRatio(); got != 0 {
		t.Errorf("overlap = %v, want 0", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero overlap should be valid: %v", err)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/docs"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"overlap too large", func(c *Config) { o := 0.8; c.Chunking.Overlap = &o }, false},
		{"negative overlap", func(c *Config) { o := -0.1; c.Chunking.Overlap = &o }, false},
		{"unknown tokenizer", func(c *Config) { c.Chunking.Tokenizer = "bert" }, false},
		{"words tokenizer", func(c *Config) { c.Chunking.Tokenizer = "words" }, true},
		{"negative chunk size", func(c *Config) { c.Chunking.ChunkSize = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, models.ErrFatal) {
				t.Errorf("validation errors should be fatal: %v", err)
			}
		})
	}
}

func TestValidateEmbedding_missingKeyIsFatal(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	err := cfg.ValidateEmbedding()
	if err == nil || !errors.Is(err, models.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	cfg.Embedding.Provider = ProviderMock
	if err := cfg.ValidateEmbedding(); err != nil {
		t.Errorf("mock provider needs no key: %v", err)
	}
}

func TestValidateStorage(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := cfg.ValidateStorage(); err != nil {
		t.Errorf("sqlite defaults: %v", err)
	}
	cfg.Storage.Driver = DriverPostgres
	if err := cfg.ValidateStorage(); err == nil {
		t.Error("postgres without dsn should fail")
	}
	cfg.Storage.Driver = "mysql"
	if err := cfg.ValidateStorage(); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Embedding.BaseDelay != 4*time.Second {
		t.Errorf("durations should round-trip: %v", loaded.Embedding.BaseDelay)
	}
}
