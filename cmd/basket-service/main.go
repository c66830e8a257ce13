package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_basket/internal/basket"
	"github.com/fjod/go_basket/internal/config"
	"github.com/fjod/go_basket/internal/events"
	"github.com/fjod/go_basket/internal/gateway"
	h "github.com/fjod/go_basket/internal/http"
	"github.com/fjod/go_basket/internal/inventory"
	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/internal/notify"
	"github.com/fjod/go_basket/internal/registry"
	"github.com/fjod/go_basket/internal/store"
	"github.com/fjod/go_basket/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("basket-service", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// forward incoming trace context to the gateways
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if err := run(cfg, log); err != nil {
		log.Fatal("basket-service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	blobs, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	gatewayOpts := gateway.Options{
		BaseURL: cfg.GatewayBaseURI,
		Timeout: cfg.GatewayTimeout,
		Logger:  log,
		Metrics: m,
	}
	orders := gateway.NewOrderClient(gatewayOpts)

	var validator basket.Validator = gateway.NewValidationClient(gatewayOpts)
	if cfg.ValidationMode == config.ValidationLocal {
		stock := inventory.NewStore(cfg.FallbackStock)
		stock.Seed(cfg.StockLevels)
		validator = stock
		log.Info("validating against local stock",
			zap.Int("fallback_stock", cfg.FallbackStock),
			zap.Int("seeded_items", len(cfg.StockLevels)))
	}

	bus := notify.NewBus()
	sessions := registry.New(registry.Config{
		Store:     blobs,
		Bus:       bus,
		Validator: validator,
		Pricer:    orders,
		Submitter: orders,
		Namespace: cfg.Namespace,
		Logger:    log,
		Metrics:   m,
		IdleTTL:   cfg.SessionIdleTTL,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx)
	}()

	if len(cfg.KafkaBrokers) > 0 {
		forwarder := events.NewForwarder(events.NewKafkaWriter(events.BasketEventsTopic, cfg.KafkaBrokers...), log, m)
		unsubscribe := forwarder.Subscribe(bus)
		defer unsubscribe()

		poller := events.NewPoller(events.NewKafkaReader(cfg.KafkaBrokers...), sessions, log)

		wg.Add(2)
		go func() {
			defer wg.Done()
			forwarder.Run(ctx)
			if err := forwarder.Close(); err != nil {
				log.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			defer poller.Close()
			poller.Run(ctx)
		}()
		log.Info("event bridge started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	handler := h.NewBasketHandler(sessions, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(handler, h.RouterConfig{
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
			Metrics:            m,
			Gatherer:           reg,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("basket-service starting", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stop()
	wg.Wait()

	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.BlobStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return store.NewRedisStore(client, cfg.RedisTTL), func() { _ = client.Close() }, nil

	case config.BackendMongo:
		db, err := store.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewMongoStore(db)
		if err := s.CreateIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		log.Info("connected to mongodb", zap.String("database", cfg.MongoDB))
		return s, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	case config.BackendPostgres:
		s, err := store.NewPostgresStore(&cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := s.RunMigrations(&cfg.Postgres); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database migrations completed")
		return s, func() { _ = s.Close() }, nil

	default:
		log.Warn("using in-memory store, baskets are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}
