package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/extract"
	"github.com/hyperjump/pravo/internal/indexer"
	"github.com/hyperjump/pravo/internal/storage"
	"github.com/hyperjump/pravo/internal/tokens"
	"github.com/hyperjump/pravo/pkg/utils"
)

const defaultConfigFile = "config.yaml"

var errUsage = errors.New("usage error")

// usageArgs marks positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

// app holds what every command shares: the loaded config, the logger and the
// output streams.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	debug      bool
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "pravo",
		Short: "Ingest and search Ukrainian legal acts",
		Long: `pravo extracts text from legal-act files, splits it into structure-aware
chunks, embeds the chunks and answers similarity queries over them.

Stages can be run one by one (extract, chunk, embed) or together for a
directory (ingest).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v\n\n%s", errUsage, err, cmd.UsageString())
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./config.yaml)")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.StringVar(&a.logFormat, "log-format", "", "log encoding: json or console")

	root.AddCommand(
		newExtractCmd(a),
		newChunkCmd(a),
		newEmbedCmd(a),
		newSearchCmd(a),
		newStatusCmd(a),
		newDeleteCmd(a),
		newMigrateCmd(a),
		newServeCmd(a),
		newIngestCmd(a),
	)
	return root
}

// load reads the config and builds the logger. Without --config, config.yaml
// in the working directory is used when present; a missing file means
// defaults plus environment.
func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = defaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	var cfg *config.Config
	if a.configPath != "" {
		cfg, err = config.Load(abs)
	} else {
		cfg, err = config.LoadOrDefault(abs)
	}
	if err != nil {
		return err
	}
	a.configPath = abs
	if a.debug {
		cfg.Debug = true
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, err = utils.NewLoggerWithFormat(cfg.Debug, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger.Debug("config loaded",
		zap.String("path", abs),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("embedding_dimensions", cfg.Embedding.Dimensions))
	return nil
}

// configExists reports whether the resolved config path is a file, so that
// watch directory changes are only persisted to a real config.
func (a *app) configExists() bool {
	info, err := os.Stat(a.configPath)
	return err == nil && !info.IsDir()
}

func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return storage.New(ctx, a.cfg, a.logger)
}

func (a *app) newEmbedder() (embedding.Embedder, error) {
	if err := a.cfg.ValidateEmbedding(); err != nil {
		return nil, err
	}
	return embedding.New(a.cfg.Embedding, a.logger)
}

func (a *app) newGenerator(e embedding.Embedder) *embedding.Generator {
	return embedding.NewGenerator(e,
		embedding.NewRateLimiter(a.cfg.Embedding.RateLimitRPM),
		embedding.PolicyFromConfig(a.cfg.Embedding),
		embedding.WithBatchSize(a.cfg.Embedding.BatchSize),
		embedding.WithTimeout(a.cfg.Embedding.Timeout),
		embedding.WithLogger(a.logger))
}

func (a *app) newChunker() (*indexer.Chunker, error) {
	counter, err := tokens.New(a.cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, err
	}
	return indexer.NewChunker(counter, a.cfg.Chunking.ChunkSize, a.cfg.Chunking.OverlapRatio()), nil
}

func (a *app) newExtractor() *extract.Extractor {
	return extract.NewExtractor(
		extract.WithLogger(a.logger),
		extract.WithOCRThresholds(a.cfg.Extract.OCRMinChars, a.cfg.Extract.OCRMinCharsPerPage),
		extract.WithSource(a.cfg.Extract.Source))
}

func (a *app) stageOptions(workers int) []indexer.StageOption {
	return []indexer.StageOption{
		indexer.WithWorkers(workers),
		indexer.WithProgressEvery(a.cfg.Log.ProgressEvery),
		indexer.WithLogger(a.logger),
	}
}

// newEmbedStage wires the embed stage to store.
func (a *app) newEmbedStage(store storage.Storage) (*indexer.EmbedStage, error) {
	e, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	policy := embedding.PolicyFromConfig(a.cfg.Embedding)
	return indexer.NewEmbedStage(store, a.newGenerator(e), policy, a.stageOptions(a.cfg.Embedding.Workers)...), nil
}

// newIndexer wires extract, chunk and embed for single-file ingestion.
func (a *app) newIndexer(store storage.Storage) (*indexer.Indexer, error) {
	chunker, err := a.newChunker()
	if err != nil {
		return nil, err
	}
	stage, err := a.newEmbedStage(store)
	if err != nil {
		return nil, err
	}
	return indexer.NewIndexer(store, a.newExtractor(), chunker, stage,
		a.cfg.Chunking.MinTextChars, a.cfg.Extract.Extensions, indexer.WithLogger(a.logger)), nil
}

// closeStorage closes store, logging instead of failing the command.
func (a *app) closeStorage(store storage.Storage) {
	if err := store.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
}
