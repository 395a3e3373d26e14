package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"wallet_ledger/internal/api"
	"wallet_ledger/internal/config"
	"wallet_ledger/internal/gateway"
	"wallet_ledger/internal/lock"
	"wallet_ledger/internal/processor"
	"wallet_ledger/internal/repository"
	"wallet_ledger/internal/repository/memory"
	"wallet_ledger/internal/repository/postgres"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/crypto"
	"wallet_ledger/pkg/metrics"
	"wallet_ledger/pkg/validator"

	slogenv "github.com/cbrewster/slog-env"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	appName = "ledgerd"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := setupLogger()
	logger.Info("Starting application",
		slog.String("name", appName))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Application shutdown complete")
}

// setupLogger logs JSON to stdout at the level named by GO_LOG (info by default).
func setupLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(slogenv.NewHandler(handler, slogenv.WithDefaultLevel(slog.LevelInfo)))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metricsCollector := metrics.NewMetricsCollector(logger)

	records, roles, closeStore, err := setupStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var natsConn *nats.Conn
	if cfg.Gateway.Mode == config.GatewayNATS || cfg.Events.PublishNATS {
		natsConn, err = gateway.Connect(gateway.NATSConfig{
			URL:           cfg.Gateway.NATSURL,
			Name:          appName,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		}, logger)
		if err != nil {
			return err
		}
		defer natsConn.Close()
	}

	ledger := setupGateway(cfg.Gateway, natsConn, metricsCollector, logger)

	locker, closeLocker, err := setupLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	events := setupEvents(cfg.Events, natsConn, metricsCollector, logger)

	engine := processor.NewTransferEngine(
		records,
		roles,
		memory.NewOperationRepository(),
		ledger,
		logger,
		processor.WithLocker(locker),
		processor.WithMetrics(metricsCollector),
		processor.WithPublisher(events),
		processor.WithValidator(validator.NewLedgerValidator(cfg.Ledger.MaxAmount)),
		processor.WithPartialTransfers(cfg.Ledger.AllowPartialTransfer),
	)

	router := api.NewRouter(api.NewAPIHandler(engine, cfg.HTTP.RequestTimeout, logger), cfg.HTTP.JWTSecret, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metricsCollector.NewServer(cfg.HTTP.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("addr", httpServer.Addr))
		return serve(httpServer)
	})
	if cfg.HTTP.MetricsAddr != "" {
		g.Go(func() error {
			logger.Info("Starting metrics server", slog.String("addr", metricsServer.Addr))
			return serve(metricsServer)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
		if err := events.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event service shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", server.Addr, err)
	}
	return nil
}

func setupStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (repository.RecordRepository, repository.RoleRepository, func(), error) {
	if cfg.Driver != config.StorePostgres {
		logger.Info("Using in-memory account store")
		return memory.NewRecordRepository(), memory.NewRoleRepository(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	logger.Info("Using postgres account store")
	return postgres.NewRecordRepository(db), postgres.NewRoleRepository(db), func() { db.Close() }, nil
}

func setupGateway(cfg config.GatewayConfig, conn *nats.Conn, m *metrics.MetricsCollector, logger *slog.Logger) gateway.Gateway {
	var ledger gateway.Gateway
	switch cfg.Mode {
	case config.GatewayNATS:
		logger.Info("Submitting to remote notary",
			slog.String("subject", cfg.Subject),
			slog.Bool("verify_replies", cfg.NotarySecret != ""))
		remote := gateway.NewNATSGateway(conn, cfg.Subject, cfg.Timeout, logger)
		if cfg.NotarySecret != "" {
			remote.WithVerifier(crypto.NewSigner(cfg.NotarySecret, logger))
		}
		ledger = remote
	default:
		logger.Info("Submitting to in-process notary")
		ledger = gateway.NewNotary(crypto.NewSigner(cfg.NotarySecret, logger), nil, logger)
	}

	if !cfg.Breaker.Enabled {
		return ledger
	}
	return gateway.NewBreaker(ledger, gateway.BreakerConfig{
		Name:          "ledger-gateway",
		MaxFailures:   cfg.Breaker.MaxFailures,
		OpenTimeout:   cfg.Breaker.OpenTimeout,
		OnStateChange: m.SetBreakerState,
	}, logger)
}

func setupLocker(ctx context.Context, cfg config.LockConfig, logger *slog.Logger) (processor.Locker, func(), error) {
	if cfg.Driver != config.LockRedis {
		return lock.NewKeyedMutex(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	opts := lock.DefaultRedisOptions()
	opts.Expiry = cfg.Expiry
	opts.Tries = cfg.Tries
	locker, err := lock.NewRedis(client, opts, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Info("Using redis account locks", slog.String("addr", cfg.RedisAddr))
	return locker, func() { client.Close() }, nil
}

func setupEvents(cfg config.EventsConfig, conn *nats.Conn, m *metrics.MetricsCollector, logger *slog.Logger) *service.EventService {
	sinks := []service.Sink{service.NewLogSink(logger)}
	if cfg.PublishNATS && conn != nil {
		sinks = append(sinks, service.NewNATSSink(conn, cfg.Subject))
	}
	return service.NewEventService(sinks, cfg.Workers, cfg.QueueSize, m, logger)
}
