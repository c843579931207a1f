package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/resgraph/internal/config"
	"github.com/jeffypooo/resgraph/internal/metrics"
	"github.com/jeffypooo/resgraph/internal/series"
	"github.com/jeffypooo/resgraph/internal/server"
)

func main() {
	logger := log.New("resgraph")

	path := os.Getenv("RESGRAPH_CONFIG")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler := metrics.NewSampler(metrics.NewHostSource(), cfg.Options(), logger)
	disks, err := sampler.Initialize(ctx)
	var enumErr *metrics.DeviceEnumerationError
	switch {
	case errors.As(err, &enumErr):
		logger.Warnf("%v, continuing without disk charts", err)
		if err := sampler.InitializeWithoutDisks(ctx); err != nil {
			logger.Fatalf("Error starting sampler: %v", err)
		}
	case err != nil:
		logger.Fatalf("Error starting sampler: %v", err)
	default:
		for _, d := range disks {
			logger.Infof("Sampling disk %s", d.DiskID)
		}
	}

	srv := server.New(sampler, series.NewStore(cfg.HistoryLimit), logger, cfg.SubscriberBuffer)
	srv.Record(ctx)
	go func() {
		if err := sampler.Run(ctx); err != nil {
			logger.Errorf("Sampler exited: %v", err)
		}
	}()
	go func() {
		if err := srv.Start(cfg.Listen); err != nil {
			logger.Errorf("Server exited: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	sampler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down server: %v", err)
	}
}
