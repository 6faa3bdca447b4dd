package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/pravo/internal/cli"
	"github.com/hyperjump/pravo/internal/extract"
	"github.com/hyperjump/pravo/internal/indexer"
	"github.com/hyperjump/pravo/internal/models"
)

// finish prints the stage summary and passes the stage error through.
func (a *app) finish(sum models.Summary, format string, err error) error {
	f, _ := cli.ParseOutputFormat(format)
	if werr := cli.WriteSummary(a.stdout, sum, f); werr != nil && err == nil {
		err = werr
	}
	return err
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		input, output, format string
		workers               int
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract text from legal-act files into an NDJSON file",
		Long: `Walks --input recursively and writes one {doc_id, metadata, text} record per
supported file to --output. Scanned PDFs are written with needs_ocr set and
counted as skipped.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if workers > 0 {
				a.cfg.Extract.Workers = workers
			}
			pool := extract.NewPool(a.newExtractor(), a.cfg.Extract.Workers,
				extract.WithPoolLogger(a.logger),
				extract.WithProgressEvery(a.cfg.Log.ProgressEvery))
			sum, err := extract.RunStage(cmd.Context(), pool, input, output, a.cfg.Extract.Extensions)
			return a.finish(sum, format, err)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "directory with source files")
	f.StringVarP(&output, "output", "o", "extracted.ndjson", "output NDJSON file")
	f.IntVarP(&workers, "workers", "w", 0, "parallel extractions (default from config)")
	f.StringVar(&format, "format", "text", "summary format: text or json")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newChunkCmd(a *app) *cobra.Command {
	var (
		input, output, format string
		chunkSize, workers    int
		overlap               float64
	)
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Split extracted documents into overlapping chunks",
		Long: `Reads extract records from --input and writes chunk records to --output.
The cleaned documents, without text, go to a sidecar next to the output
(chunks.ndjson gives chunks.docs.ndjson) for the embed stage.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if cmd.Flags().Changed("chunk-size") {
				a.cfg.Chunking.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("overlap") {
				a.cfg.Chunking.Overlap = &overlap
			}
			if workers > 0 {
				a.cfg.Chunking.Workers = workers
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			chunker, err := a.newChunker()
			if err != nil {
				return err
			}
			stage := indexer.NewChunkStage(chunker, a.cfg.Chunking.MinTextChars, a.stageOptions(a.cfg.Chunking.Workers)...)
			sum, err := stage.Run(cmd.Context(), input, output)
			return a.finish(sum, format, err)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "extracted.ndjson", "extract stage output")
	f.StringVarP(&output, "output", "o", "chunks.ndjson", "output NDJSON file")
	f.IntVar(&chunkSize, "chunk-size", 0, "maximum tokens per chunk (default from config)")
	f.Float64Var(&overlap, "overlap", 0, "overlap fraction within [0, 0.5] (default from config)")
	f.IntVarP(&workers, "workers", "w", 0, "parallel documents (default from config)")
	f.StringVar(&format, "format", "text", "summary format: text or json")
	return cmd
}

func newEmbedCmd(a *app) *cobra.Command {
	var (
		input, format      string
		batchSize, workers int
		buildIndex         bool
	)
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed chunks and store them with their documents",
		Long: `Reads chunk records from --input and documents from its sidecar, embeds the
chunks that are not stored yet (or whose text changed) and upserts everything.
Re-running after an interruption resumes where the previous run stopped.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if batchSize > 0 {
				a.cfg.Embedding.BatchSize = batchSize
			}
			if workers > 0 {
				a.cfg.Embedding.Workers = workers
			}
			store, err := a.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStorage(store)
			stage, err := a.newEmbedStage(store)
			if err != nil {
				return err
			}
			sum, err := stage.BuildIndexAfterRun(buildIndex).Run(cmd.Context(), input)
			return a.finish(sum, format, err)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "chunks.ndjson", "chunk stage output")
	f.IntVarP(&batchSize, "batch-size", "b", 0, "texts per provider request (default from config)")
	f.IntVarP(&workers, "workers", "w", 0, "parallel documents (default from config)")
	f.BoolVar(&buildIndex, "build-index", true, "rebuild the vector index after embedding")
	f.StringVar(&format, "format", "text", "summary format: text or json")
	return cmd
}

// validateFormat fails early on an unknown --format value.
func validateFormat(format string) error {
	if _, err := cli.ParseOutputFormat(format); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
