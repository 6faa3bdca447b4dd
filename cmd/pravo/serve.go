package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/search"
	"github.com/hyperjump/pravo/internal/server"
	"github.com/hyperjump/pravo/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		host  string
		port  int
		watch []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search HTTP API",
		Long: `Serves search, document and status endpoints under /api/v1. Directories in
watch.directories (or --watch) are ingested on start and kept in sync.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port > 0 {
				a.cfg.Server.Port = port
			}
			a.cfg.Watch.Directories = append(a.cfg.Watch.Directories, watch...)
			return a.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&host, "host", "", "listen host (default from config)")
	f.IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	f.StringSliceVar(&watch, "watch", nil, "directories to watch in addition to the config")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer a.closeStorage(store)

	idx, err := a.newIndexer(store)
	if err != nil {
		return err
	}
	e, err := a.newEmbedder()
	if err != nil {
		return err
	}
	cached, err := embedding.NewCachedEmbedder(e, a.cfg.Embedding.CacheSize)
	if err != nil {
		return err
	}
	engine := search.NewEngine(store, cached, &a.cfg.Search, search.WithLogger(a.logger))

	var ws server.WatchService
	if len(a.cfg.Watch.Directories) > 0 {
		w := watcher.New(idx, a.cfg.Watch, a.cfg.Extract.Extensions, watcher.WithLogger(a.logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		go w.SyncExistingFiles()
		ws = w
	}

	configPath := ""
	if a.configExists() {
		configPath = a.configPath
	}
	srv := server.NewServer(engine, idx, store, a.cfg, a.logger, ws, configPath)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		watch  bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "ingest DIR",
		Short: "Extract, chunk and embed every file under a directory",
		Long: `Runs all stages for each file under DIR. Files already stored with the same
modification time and size are left as they are. With --watch the command keeps
running and ingests files as they are created, changed or removed.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer a.closeStorage(store)
			idx, err := a.newIndexer(store)
			if err != nil {
				return err
			}

			sum, err := idx.IndexDirectory(ctx, args[0])
			if err := a.finish(sum, format, err); err != nil || !watch {
				return err
			}

			cfg := a.cfg.Watch
			cfg.Directories = []string{args[0]}
			w := watcher.New(idx, cfg, a.cfg.Extract.Extensions, watcher.WithLogger(a.logger))
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			a.logger.Info("watching for changes", zap.String("dir", args[0]))
			<-ctx.Done()
			w.Stop()
			st := w.Stats()
			fmt.Fprintf(a.stdout, "Watch stopped: %d indexed, %d removed, %d failed\n", st.Indexed, st.Removed, st.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching DIR after the initial ingest")
	cmd.Flags().StringVar(&format, "format", "text", "summary format: text or json")
	return cmd
}
