package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/app"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
)

func main() {
	var cfg app.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	observability.RegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("ws-manager-bridge starting", zap.String("installation", cfg.Installation))
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Fatal("ws-manager-bridge failed", zap.Error(err))
	}
	log.Info("ws-manager-bridge stopped")
}
