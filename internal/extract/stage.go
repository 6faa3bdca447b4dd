package extract

import (
	"context"

	"github.com/google/uuid"

	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/ndjson"
)

// RunStage discovers the files under input, extracts them with pool and writes
// one record per file to the NDJSON file output. Files with an extension
// outside allowedExts are counted as skipped.
func RunStage(ctx context.Context, pool *Pool, input, output string, allowedExts []string) (models.Summary, error) {
	tally := models.NewTally("extract", uuid.New().String())
	err := runStage(ctx, pool, input, output, allowedExts, tally)
	if err != nil {
		tally.Abort(err)
	}
	return tally.Summary(), err
}

func runStage(ctx context.Context, pool *Pool, input, output string, allowedExts []string, tally *models.Tally) error {
	disc, err := Discover(input, allowedExts)
	if err != nil {
		return &models.StageError{Stage: "extract", Err: err}
	}
	for _, path := range disc.Skipped {
		tally.Skip(path, "extension not allowed")
	}
	out, err := ndjson.Create(output)
	if err != nil {
		return &models.StageError{Stage: "extract", Err: err}
	}
	runErr := pool.Run(ctx, disc.Files, out, tally)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = &models.StageError{Stage: "extract", Err: err}
	}
	return runErr
}
