package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/cli"
	"github.com/hyperjump/pravo/internal/storage"
)

func newStatusCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document, chunk and embedding counts",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			store, err := a.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStorage(store)
			st, err := storage.CollectStats(cmd.Context(), store, a.cfg.Storage)
			if err != nil {
				return err
			}
			return cli.WriteStatus(a.stdout, st, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DOC_ID...",
		Short: "Delete documents and their chunks",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStorage(store)
			for _, id := range args {
				if err := store.DeleteDocument(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(a.stdout, "Deleted %s\n", id)
			}
			return nil
		},
	}
}

type sqlDB interface {
	DB() *sql.DB
}

func newMigrateCmd(a *app) *cobra.Command {
	var buildIndex bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Opens the configured database, applying any pending schema migrations.
With --build-index the vector index is rebuilt from the stored embeddings.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer a.closeStorage(store)

			if s, ok := store.(sqlDB); ok {
				v, err := storage.MigrationVersion(ctx, s.DB(), "sqlite3")
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Schema version %d (%s)\n", v, a.cfg.Storage.Driver)
			} else {
				fmt.Fprintf(a.stdout, "Migrations applied (%s)\n", a.cfg.Storage.Driver)
			}

			if !buildIndex {
				return nil
			}
			vi, ok := store.(storage.VectorIndexer)
			if !ok {
				return nil
			}
			info, err := vi.BuildVectorIndex(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("vector index built", zap.Int64("vectors", info.Vectors), zap.Int("lists", info.Lists))
			fmt.Fprintf(a.stdout, "Vector index: %d vectors in %d lists\n", info.Vectors, info.Lists)
			return nil
		},
	}
	cmd.Flags().BoolVar(&buildIndex, "build-index", false, "rebuild the vector index")
	return cmd
}
