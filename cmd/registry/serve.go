package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "propledger/internal/jwt_token"
	"propledger/internal/outbox"
	"propledger/internal/platform/config"
	"propledger/internal/platform/httpserver"
	"propledger/internal/platform/logger"
	"propledger/internal/platform/metrics"
	"propledger/internal/platform/postgres"
	"propledger/internal/platform/redis"
	"propledger/internal/registry/handler"
	"propledger/internal/registry/idempotency"
	registrymetrics "propledger/internal/registry/metrics"
	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	"propledger/internal/registry/service"
	"propledger/internal/registry/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP API and event delivery worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log := logger.New(level)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

// ledgerBackend is implemented by both ledger stores.
type ledgerBackend interface {
	ports.Ledger
	ports.Outbox
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	server  *http.Server
	worker  *outbox.Worker
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, err
	}

	var checks []healthCheck
	ledger, db, err := openLedger(ctx, cfg, genesis)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		checks = append(checks, healthCheck{name: "postgres", check: db.PingContext})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registryMetrics := registrymetrics.New(reg)

	svc, err := service.New(ledger,
		service.WithLogger(log),
		service.WithMetrics(registryMetrics),
	)
	if err != nil {
		return nil, err
	}

	guard, redisClient, err := newGuard(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		checks = append(checks, healthCheck{name: "redis", check: redisClient.Health})
	}

	publisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if kp, ok := publisher.(*outbox.KafkaPublisher); ok {
		a.closers = append(a.closers, kp.Close)
		checks = append(checks, healthCheck{name: "kafka", check: kp.Ping})
	}
	a.worker = outbox.NewWorker(ledger, publisher,
		outbox.WithLogger(log),
		outbox.WithMetrics(registryMetrics),
		outbox.WithInterval(cfg.Outbox.Interval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	router := newRouter(routerDeps{
		handler:      handler.New(svc, guard, log),
		validator:    jwttoken.NewJWTServiceAdapter(jwtService),
		httpMetrics:  metrics.NewHTTP(reg),
		gatherer:     reg,
		metricsToken: cfg.Server.MetricsToken,
		checks:       checks,
		logger:       log,
	})
	a.server = httpserver.New(cfg.Server.Addr, router)

	if cfg.Auth.JWTSigningKey == config.DefaultJWTSigningKey {
		log.Warn("using the development JWT signing key")
	}
	return a, nil
}

func openLedger(ctx context.Context, cfg *config.Config, genesis models.Genesis) (ledgerBackend, *sql.DB, error) {
	if cfg.Database.URL == "" {
		return store.NewInMemory(genesis, store.WithInMemoryTxTimeout(cfg.Database.TxTimeout)), nil, nil
	}
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.CheckMigrationStatus(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%w (run `registry migrate up`)", err)
	}
	ledger := store.NewPostgres(db, store.WithTxTimeout(cfg.Database.TxTimeout))
	if err := ledger.Bootstrap(ctx, genesis); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap ledger: %w", err)
	}
	return ledger, db, nil
}

func newGuard(ctx context.Context, cfg *config.Config) (*idempotency.Guard, *redis.Client, error) {
	opts := []idempotency.Option{
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLockTTL(cfg.Idempotency.LockTTL),
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return idempotency.NewGuard(idempotency.NewInMemoryStore(), idempotency.NewInMemoryLocker(), opts...), nil, nil
	}
	guard := idempotency.NewGuard(
		idempotency.NewRedisStore(client.Client),
		idempotency.NewRedisLocker(client.Client),
		opts...,
	)
	return guard, client, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (outbox.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return outbox.NewLogPublisher(log), nil
	}
	p, err := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Run serves HTTP and delivers events until ctx is cancelled or either
// component fails.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("registry listening", "addr", a.cfg.Server.Addr)
		return httpserver.Serve(ctx, a.server, a.cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return a.worker.Run(ctx)
	})
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("registry stopped")
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
