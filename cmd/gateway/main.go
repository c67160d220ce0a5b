package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.NewGateway(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize gateway")
	}

	go func() {
		if err := a.Start(); err != nil {
			logger.WithError(err).Error("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}
	stop()

	logger.Info("server exiting")
}
