package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve search, chat and document management over HTTP under /api/v1.
With --watch the configured watch directories are kept in sync with the
default index while the server runs, and /api/v1/watch/directories adds or
removes folders.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port > 0 {
				a.cfg.Server.Port = port
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			emb, err := a.embedder()
			if err != nil {
				return err
			}
			opts := []server.Option{
				server.WithAdmin(a.admin()),
				server.WithExtractor(a.extractor()),
			}
			if client, err := a.chatClient(); err != nil {
				a.logger.Warn("chat disabled", zap.Error(err))
			} else {
				opts = append(opts, server.WithLLM(client))
			}

			if watch {
				w, err := a.startWatcher(ctx, a.cfg.Watch.Directories)
				if err != nil {
					return err
				}
				defer w.Stop()
				go w.Sync(ctx)
				opts = append(opts, server.WithWatcher(w, a.configFile()))
			}

			srv := server.NewServer(cat, emb, a.cfg, a.logger, opts...)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			cli.Success(a.out, "Listening on http://%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			a.logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "also watch the configured directories")
	return cmd
}
