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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kurihiro0119/github-repo-extractor/internal/aggregator"
	"github.com/kurihiro0119/github-repo-extractor/internal/api"
	"github.com/kurihiro0119/github-repo-extractor/internal/config"
	"github.com/kurihiro0119/github-repo-extractor/internal/logging"
	"github.com/kurihiro0119/github-repo-extractor/internal/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	_, closer, err := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
		Dir:    cfg.LogDir,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	// Initialize storage
	store, err := runner.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := runner.New(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}
	defer r.Close()

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(aggregator.NewAggregator(store), r)
	router := api.SetupRoutes(handler, logging.NewLogger("api"))

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("storage", cfg.StorageType).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
