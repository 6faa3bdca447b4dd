package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/pravo/internal/cli"
	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/search"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK                   int
		threshold              float64
		docID, section, output string
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find the chunks most similar to a query",
		Example: `  pravo search "право на освіту" --top-k 5
  pravo search "строк позовної давності" --section "Розділ I/Стаття 1" --output json`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			query := &models.SearchQuery{
				Query:         strings.Join(args, " "),
				TopK:          topK,
				DocID:         docID,
				SectionPrefix: models.ParseSectionPath(section),
			}
			if cmd.Flags().Changed("threshold") {
				query.Threshold = &threshold
			}

			ctx := cmd.Context()
			store, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer a.closeStorage(store)
			e, err := a.newEmbedder()
			if err != nil {
				return err
			}
			cached, err := embedding.NewCachedEmbedder(e, a.cfg.Embedding.CacheSize)
			if err != nil {
				return err
			}
			engine := search.NewEngine(store, cached, &a.cfg.Search, search.WithLogger(a.logger))
			response, err := engine.Search(ctx, query)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(a.stdout, response, format)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	f.Float64VarP(&threshold, "threshold", "t", 0, "minimum cosine similarity (default from config)")
	f.StringVar(&docID, "doc", "", "restrict to one document id")
	f.StringVar(&section, "section", "", `restrict to a section path prefix, e.g. "Розділ I/Стаття 1"`)
	f.StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}
