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
	"go.uber.org/zap"

	"github.com/youruser/certbatch/internal/api"
	"github.com/youruser/certbatch/internal/batch"
	"github.com/youruser/certbatch/internal/config"
	"github.com/youruser/certbatch/internal/ingest"
	"github.com/youruser/certbatch/internal/logging"
	"github.com/youruser/certbatch/internal/publish"
	"github.com/youruser/certbatch/internal/render"
	"github.com/youruser/certbatch/internal/runs"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(config.GetEnv("CERTBATCH_CONFIG", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited.", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := runs.NewStore(cfg.Runs.Root, cfg.Runs.TTL, logger)
	if err != nil {
		return err
	}
	go store.RunSweeper(ctx, cfg.Runs.SweepInterval)

	svc, err := ingest.NewService(cfg.Photo, logger)
	if err != nil {
		return err
	}
	renderer, err := render.NewFromConfig(cfg.Render)
	if err != nil {
		return err
	}

	srv := &api.Server{
		Store:      store,
		Ingest:     svc,
		Batch:      &batch.Orchestrator{Renderer: renderer, Workers: cfg.Render.Workers, Logger: logger},
		Renderer:   renderer,
		Normalizer: svc.Resolver.Normalizer,
		Logger:     logger,
	}
	if cfg.Storage.Bucket != "" {
		gcs, err := publish.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix, logger)
		if err != nil {
			return err
		}
		defer gcs.Close()
		srv.Publisher = gcs
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	api.RegisterRoutes(engine, srv)

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started.", zap.String("addr", cfg.Server.Addr), zap.String("runs_root", cfg.Runs.Root))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down.")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		logger.Warn("Shutdown incomplete.", zap.Error(err))
	}
	srv.Wait()
	return nil
}
