package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/content"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var syncOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), syncOnStart)
		},
	}
	cmd.Flags().BoolVar(&syncOnStart, "sync", false, "reconcile the index with the content directory before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, syncOnStart bool) error {
	cfg, logger := a.cfg, a.logger
	rec := metrics.New()

	c, err := initializeComponents(cfg, logger, rec)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.attachAssistant(cfg, logger, false); err != nil {
		return err
	}

	if syncOnStart {
		if _, err := c.Indexer.Sync(ctx, false); err != nil {
			logger.Warn("initial sync failed", zap.Error(err))
		}
	}

	if cfg.Content.Watch {
		watcher := content.NewWatcher(c.Source, c.Indexer, content.WithWatcherLogger(logger))
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := server.NewServer(c.Orchestrator, &cfg.Server, logger,
		server.WithAdmin(c.Indexer),
		server.WithMetrics(rec),
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
