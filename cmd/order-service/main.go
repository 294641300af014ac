package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/config"
	"github.com/vasiliy-maslov/storefront-orders/internal/db"
	"github.com/vasiliy-maslov/storefront-orders/internal/handler"
	"github.com/vasiliy-maslov/storefront-orders/internal/notify"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Err(err).Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	var storage order.Storage
	var pg *db.Postgres
	switch cfg.Orders.Storage {
	case config.StorageMemory:
		log.Warn().Msg("Using in-memory storage, orders will not survive a restart")
		storage = order.NewMemoryStorage()
	default:
		pg, err = db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		storage = order.NewPostgresStorage(pg.Pool)
	}

	var notifier order.Notifier = order.NewBus()
	var redisNotifier *notify.RedisNotifier
	if cfg.Redis.Addr != "" {
		redisNotifier, err = notify.NewRedisNotifier(ctx, cfg.Redis.Addr, notify.WithChannel(cfg.Redis.Channel))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		notifier = redisNotifier
	}

	mode, err := order.ParseTransitionMode(cfg.Orders.TransitionMode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid order transition mode")
	}

	pricing := order.PricingPolicy{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShipping:          cfg.Pricing.FlatShipping,
		TaxRate:               cfg.Pricing.TaxRate,
	}
	catalog := order.NewFixtureCatalog()

	store := order.NewStore(storage, order.StoreOptions{
		Engine:     order.NewEngine(mode),
		Notifier:   notifier,
		Seeder:     order.NewSeeder(0, catalog, pricing),
		SeedCount:  cfg.Orders.SeedCount,
		MaxRetries: cfg.Orders.PersistMaxRetries,
	})
	if _, err := store.LoadAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial order load failed, will retry on first request")
	}

	svc := order.NewService(store, notifier,
		order.WithCatalog(catalog),
		order.WithPricing(pricing),
	)
	orderHandler := handler.NewOrderHandler(svc)

	streamCtx, stopStreams := context.WithCancel(ctx)
	server := &http.Server{
		Addr:        ":" + cfg.App.Port,
		Handler:     transport.NewRouter(orderHandler),
		ReadTimeout: 10 * time.Second,
		// WriteTimeout stays unset: /orders/events streams for as long as the client listens.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return streamCtx },
	}
	server.RegisterOnShutdown(stopStreams)

	go func() {
		log.Info().Str("port", cfg.App.Port).Str("storage", cfg.Orders.Storage).Str("transition_mode", string(mode)).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	if redisNotifier != nil {
		if err := redisNotifier.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis notifier")
		}
	}
	if pg != nil {
		pg.Close()
	}
	log.Info().Msg("Server stopped")
}
