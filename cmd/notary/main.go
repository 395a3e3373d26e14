package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	"wallet_ledger/internal/config"
	"wallet_ledger/internal/gateway"
	"wallet_ledger/pkg/crypto"

	slogenv "github.com/cbrewster/slog-env"
)

const (
	appName = "notary"
)

// notary answers ledger submissions arriving over NATS and assigns commit
// identifiers. Run one or more next to ledgerd in nats gateway mode.
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(slogenv.NewHandler(handler, slogenv.WithDefaultLevel(slog.LevelInfo)))
	logger.Info("Starting application", slog.String("name", appName))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Gateway.NATSURL == "" || cfg.Gateway.NotarySecret == "" {
		logger.Error("Notary needs gateway.nats_url and gateway.notary_secret")
		os.Exit(1)
	}

	conn, err := gateway.Connect(gateway.NATSConfig{
		URL:           cfg.Gateway.NATSURL,
		Name:          appName,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	notary := gateway.NewNotary(crypto.NewSigner(cfg.Gateway.NotarySecret, logger), nil, logger)
	responder := gateway.NewResponder(conn, cfg.Gateway.Subject, cfg.Gateway.Queue, notary, cfg.Gateway.Timeout, logger)
	if err := responder.Start(); err != nil {
		logger.Error("Failed to subscribe", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutdown signal received")
	if err := responder.Close(); err != nil {
		logger.Error("Failed to drain subscription", slog.String("error", err.Error()))
	}
	logger.Info("Application shutdown complete", slog.Uint64("height", notary.Height()))
}
