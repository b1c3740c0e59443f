package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/chat"
	"github.com/GurpreetSingh-21/Community-Talk/internal/config"
	"github.com/GurpreetSingh-21/Community-Talk/internal/handlers"
	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
	"github.com/GurpreetSingh-21/Community-Talk/internal/logging"
	"github.com/GurpreetSingh-21/Community-Talk/internal/messaging"
	"github.com/GurpreetSingh-21/Community-Talk/internal/metrics"
	"github.com/GurpreetSingh-21/Community-Talk/internal/presence"
	"github.com/GurpreetSingh-21/Community-Talk/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// bootstrap logger until the configured one exists
	boot, _ := zap.NewProduction()

	cfg, err := config.Load(boot, "config")
	if err != nil {
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	registry := presence.NewRegistry(nil)
	manager := chat.NewManager(registry, chat.ManagerConfig{
		Policy: chat.Policy(cfg.Fanout.GroupPolicy),
	}, logger, m)

	managerCtx, stopManager := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(managerCtx)
	}()
	defer func() {
		stopManager()
		<-managerDone
	}()

	auth := identity.NewAuthenticator(cfg.Auth.Secret, identity.WithLeeway(cfg.Auth.Leeway))
	extractor := identity.Extractor{HeaderName: cfg.Auth.Header, CookieName: cfg.Auth.Cookie}
	gateway := chat.NewGateway(manager, auth, chat.GatewayConfig{
		Extractor: extractor.ForHandshake(cfg.Auth.QueryParam),
		Transport: chat.Transport{
			PingInterval: cfg.Transport.PingInterval,
			PongTimeout:  cfg.Transport.PongTimeout,
			WriteTimeout: cfg.Transport.WriteTimeout,
			SendBuffer:   cfg.Transport.SendBuffer,
			DedupeWindow: cfg.Transport.DedupeWindow,
		},
	}, logger, m)
	svc := messaging.NewService(st, manager, logger)

	app := fiber.New(fiber.Config{
		AppName:               "community-talk",
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowCredentials: true,
	}))
	app.Get("/metrics", handlers.MetricsHandler(reg))
	handlers.New(svc, registry, gateway, auth, extractor, logger).Routes(app)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("address", cfg.Server.Address),
			zap.String("store", cfg.Store.Driver),
			zap.String("groupPolicy", cfg.Fanout.GroupPolicy),
		)
		listenErr <- app.Listen(cfg.Server.Address)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// stop the manager first so open websockets are closed and their
	// handlers return before fiber waits on them
	stopManager()
	<-managerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := app.ShutdownWithContext(shutdownCtx); serr != nil {
		return fmt.Errorf("shutdown: %w", serr)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client, err := store.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis message store", zap.String("addr", cfg.Redis.Addr))
		return store.NewRedis(client, store.WithHistoryLimit(cfg.Redis.HistoryLimit)), nil
	default:
		logger.Info("using in-memory message store")
		return store.NewMemory(nil), nil
	}
}
