package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/bootstrap"
	"github.com/dharsanguruparan/LedgerDrop/internal/config"
	"github.com/dharsanguruparan/LedgerDrop/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	app, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	if err := app.RunWorker(ctx); err != nil {
		log.WithError(err).Error("worker stopped")
		app.Close()
		os.Exit(1)
	}
}
