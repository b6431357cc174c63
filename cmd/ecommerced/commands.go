package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/storefront/services/ecommerce/internal/api"
	"github.com/storefront/services/ecommerce/internal/cache"
	"github.com/storefront/services/ecommerce/internal/config"
	"github.com/storefront/services/ecommerce/internal/db"
	"github.com/storefront/services/ecommerce/internal/events"
	grpcserver "github.com/storefront/services/ecommerce/internal/grpc"
	"github.com/storefront/services/ecommerce/internal/health"
	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/repo"
	"github.com/storefront/services/ecommerce/internal/service"
	"github.com/storefront/services/ecommerce/internal/tracing"
	"github.com/storefront/services/ecommerce/pkg/logger"
)

// publishTimeout bounds one dispatched publish including reconnect attempts
const publishTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Ecommerce service starting", zap.Bool("with_notifier", c.Bool("with-notifier")))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := setupTracing(ctx, cfg, log)
	defer shutdownTracing()

	database, err := openDatabase(ctx, cfg, log, cfg.SeedData)
	if err != nil {
		return err
	}
	defer database.Close()

	reg, m := newRegistry()

	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("Redis unavailable, product reads will go to the database", zap.Error(err))
	}

	log.Info("Connecting to RabbitMQ")
	publisher := events.NewPublisher(publisherConfig(cfg), log, m)
	publisher.Start()
	defer publisher.Close()

	dispatcher := events.NewDispatcher(publisher, cfg.DispatchWorkers, cfg.DispatchBuffer, publishTimeout, log, m)

	store := repo.NewStore(database, log)
	orders := service.NewOrderService(store, dispatcher, redisCache, service.OrderConfig{
		DefaultEmail:           cfg.NotifyDefaultEmail,
		DefaultPhone:           cfg.NotifyDefaultPhone,
		InvalidateCacheOnOrder: cfg.CacheInvalidateOnOrder,
	}, log, m)

	checker := health.NewChecker(log,
		health.Check{Name: "database", Critical: true, Probe: database.Ping},
		health.Check{Name: "rabbitmq", Probe: func(context.Context) error {
			if !publisher.IsHealthy() {
				return events.ErrTransportUnavailable
			}
			return nil
		}},
		health.Check{Name: "redis", Probe: redisCache.Ping},
	)

	httpServer := newHTTPServer(cfg.HTTPPort, api.NewRouter(api.Deps{
		Customers: service.NewCustomerService(store, log),
		Products:  service.NewProductService(store, redisCache, cfg.CacheTTL, log, m),
		Orders:    orders,
		Health:    checker,
		Gatherer:  reg,
		Log:       log,
	}))
	grpcServer := grpcserver.NewServer(checker, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(httpServer, log) })
	g.Go(func() error { return serveGRPC(grpcServer, cfg.GRPCPort, log) })
	if c.Bool("with-notifier") {
		consumer := newConsumer(cfg, log, m)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdown(httpServer, grpcServer, cfg.ShutdownTimeout, log)
		return nil
	})

	err = g.Wait()

	// Pending notifications go out before the publisher closes
	dispatcher.Close()
	log.Info("Server stopped")
	return err
}

func runNotifier(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Notifier starting", zap.String("dir", cfg.NotificationsDir))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := setupTracing(ctx, cfg, log)
	defer shutdownTracing()

	reg, m := newRegistry()
	consumer := newConsumer(cfg, log, m)

	httpServer := newHTTPServer(cfg.HTTPPort, api.NewRouter(api.Deps{
		Health:   notifierChecker(consumer, log),
		Gatherer: reg,
		Log:      log,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(httpServer, log) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdown(httpServer, nil, cfg.ShutdownTimeout, log)
		return nil
	})

	err = g.Wait()
	log.Info("Notifier stopped")
	return err
}

type connectivity interface {
	IsConnected() bool
}

// notifierChecker reports the notifier unhealthy while the consumer holds no
// broker session
func notifierChecker(consumer connectivity, log *zap.Logger) *health.Checker {
	return health.NewChecker(log,
		health.Check{Name: "rabbitmq", Critical: true, Probe: func(context.Context) error {
			if !consumer.IsConnected() {
				return events.ErrTransportUnavailable
			}
			return nil
		}},
	)
}

func runMigrate(c *cli.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	seed := cfg.SeedData
	if c.IsSet("seed") {
		seed = c.Bool("seed")
	}

	database, err := openDatabase(c.Context, cfg, log, seed)
	if err != nil {
		return err
	}
	defer database.Close()

	log.Info("Migration complete", zap.Bool("seeded", seed))
	return nil
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.ServiceName, cfg.LogLevel), nil
}

func setupTracing(ctx context.Context, cfg *config.Config, log *zap.Logger) func() {
	shutdown, err := tracing.Setup(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger, seed bool) (*db.DB, error) {
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to database")
	}

	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, pkgerrors.Wrap(err, "failed to run migrations")
	}

	if seed {
		if err := db.Seed(ctx, database); err != nil {
			database.Close()
			return nil, pkgerrors.Wrap(err, "failed to seed database")
		}
		log.Info("Seed data ensured")
	}
	return database, nil
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

func publisherConfig(cfg *config.Config) events.PublisherConfig {
	return events.PublisherConfig{
		URL:               cfg.RabbitMQURL,
		Topology:          topology(cfg),
		ReconnectInterval: cfg.RabbitMQReconnectInterval,
		PublishTimeout:    cfg.RabbitMQPublishTimeout,
	}
}

func newConsumer(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *events.Consumer {
	return events.NewConsumer(events.ConsumerConfig{
		URL:               cfg.RabbitMQURL,
		Topology:          topology(cfg),
		Tag:               cfg.ServiceName + "-notifier",
		Prefetch:          cfg.ConsumerPrefetch,
		ReconnectInterval: cfg.RabbitMQReconnectInterval,
		MaxAttempts:       cfg.ConsumerMaxAttempts,
	}, events.NewFileSink(cfg.NotificationsDir, log), log, m)
}

func topology(cfg *config.Config) events.Topology {
	return events.Topology{
		Exchange:     cfg.RabbitMQExchange,
		ExchangeKind: cfg.RabbitMQExchangeKind,
		Queue:        cfg.RabbitMQQueue,
	}
}

func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func serveHTTP(server *http.Server, log *zap.Logger) error {
	log.Info("Starting HTTP server", zap.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return pkgerrors.Wrap(err, "failed to serve HTTP")
	}
	return nil
}

func serveGRPC(server *grpc.Server, port string, log *zap.Logger) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to listen on gRPC port")
	}
	log.Info("Starting gRPC server", zap.String("address", lis.Addr().String()))
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return pkgerrors.Wrap(err, "failed to serve gRPC")
	}
	return nil
}

func shutdown(httpServer *http.Server, grpcServer *grpc.Server, timeout time.Duration, log *zap.Logger) {
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}
