package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/api"
	"github.com/JakeFAU/paperfetch/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run queued sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

func runServe(ctx context.Context, port int) error {
	env, err := envFrom(ctx)
	if err != nil {
		return err
	}
	cfg, logger := env.cfg, env.logger
	if port <= 0 {
		port = cfg.Server.Port
	}

	a, err := buildApp(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	apiServer, err := api.NewServer(a.Manager, a.History, a.Registry, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		DefaultSources: cfg.Download.Sources,
		Ready:          a.Ready,
	}, logger)
	if err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("build api: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	runDone := make(chan error, 1)
	go func() {
		logger.Info("session manager started")
		runDone <- a.Manager.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("session manager stopped", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close services", zap.Error(err))
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
