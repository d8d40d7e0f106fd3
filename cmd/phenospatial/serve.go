package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/phenospatial/internal/api"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/metrics"
)

func newServeCommand(rt *runtime) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the field files in data.dir over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				rt.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), rt)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: server.port from config)")
	return cmd
}

func runServe(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	logger := rt.logger
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("starting phenospatial server", logging.Int("port", cfg.Server.Port))

	registry := api.NewFieldRegistry()
	n, err := registry.LoadDir(cfg.Data.Dir, rt.readOptions(), logger.Named("data"))
	if err != nil {
		return err
	}
	logger.Info("fields loaded", logging.String("dir", cfg.Data.Dir), logging.Int("fields", n))

	opts, err := rt.serviceOptions(metrics.New(metrics.Options{RuntimeCollectors: true}))
	if err != nil {
		return err
	}
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Options:     opts,
		Rules:       rt.rules,
		Workers:     cfg.Engine.Workers,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logging.String("addr", "http://localhost"+server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", logging.Err(err))
	}

	logger.Info("server stopped")
	return nil
}
