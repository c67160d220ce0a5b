package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"skeletoncache/internal/gateway/app"
	"skeletoncache/internal/gateway/config"
	"skeletoncache/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := app.NewWorker(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize worker")
	}
	if err := w.Run(ctx); err != nil {
		logger.WithError(err).Error("worker stopped with error")
	}
	logger.Info("worker exiting")
}
