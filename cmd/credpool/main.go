package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/credpool/internal/api"
	"github.com/Checker-Finance/credpool/internal/audit"
	"github.com/Checker-Finance/credpool/internal/eventbus"
	"github.com/Checker-Finance/credpool/internal/jobs"
	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/internal/publisher"
	"github.com/Checker-Finance/credpool/internal/rate"
	internalsecrets "github.com/Checker-Finance/credpool/internal/secrets"
	"github.com/Checker-Finance/credpool/internal/store"
	"github.com/Checker-Finance/credpool/pkg/config"
	"github.com/Checker-Finance/credpool/pkg/logger"
	"github.com/Checker-Finance/credpool/pkg/secrets"
	"github.com/Checker-Finance/credpool/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)

	// --- Optional secrets bundle (overrides env DSNs and JWT secret) ---
	stopCleaner := make(chan struct{})
	if cfg.SecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		bundleCache := secrets.NewCache[internalsecrets.Bundle](cfg.CacheTTL)
		go bundleCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

		resolver := internalsecrets.NewResolver(logger.Named("secrets"), awsProvider, bundleCache)
		if err := resolver.ApplyTo(ctx, cfg); err != nil {
			logg.Fatalw("failed to resolve secrets bundle", "secret", cfg.SecretName, "error", err)
		}
	}
	if cfg.JWTSecret == "" {
		logg.Fatal("JWT_SECRET is required")
	}
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Store (Redis live pool + optional Postgres audit) ---
	st, err := store.NewHybrid(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
		Prefix:   cfg.RedisPrefix,
	}, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Event fan-out ---
	bus := eventbus.New()
	var sinks []publisher.Sink

	if st.PG != nil {
		auditWriter := audit.NewWriter(st.PG, logger.Named("audit"))
		if err := auditWriter.EnsureSchema(ctx); err != nil {
			logg.Fatalw("failed to ensure audit schema", "error", err)
		}
		sinks = append(sinks, auditWriter)
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		natsPub, err := publisher.NewNATS(nc, cfg.NATSStream, cfg.EventSubject, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init NATS publisher", "error", err)
		}
		sinks = append(sinks, natsPub)
	}

	var amqpPub *publisher.AMQPPublisher
	if cfg.AMQPURL != "" {
		amqpPub, err = publisher.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ publisher", "error", err)
		}
		sinks = append(sinks, amqpPub)
	}

	attached := publisher.Attach(bus, logger.Named("publisher"), sinks...)
	if !bus.HasSubscribers(eventbus.All) {
		logg.Warnw("no event sinks configured; pool events stay in-process")
	} else {
		logg.Infow("event sinks attached", "subscribers", attached)
	}

	// --- Allocator ---
	alloc := pool.NewAllocator(st, bus, logger.Named("allocator"), pool.Options{
		DefaultCapacity: cfg.DefaultCapacity,
		DefaultDomain:   cfg.DefaultDomain,
	})

	// --- Expiry sweeper ---
	sweeper := jobs.NewExpirySweeper(logger.Named("sweeper"), alloc, cfg.SweepInterval)
	if cfg.SweepEnabled {
		go sweeper.Start(ctx)
	} else {
		logg.Warn("SWEEP_ENABLED=false; expired credentials are retired only via POST /sweep")
	}

	// --- Rate limiter (per identity) ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateRequestsPerSecond,
		Burst:             cfg.RateBurst,
		Cooldown:          1 * time.Second,
	})

	// --- Fiber HTTP Server ---
	fiberCfg := fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	}
	if len(cfg.TrustedProxies) > 0 {
		fiberCfg.EnableTrustedProxyCheck = true
		fiberCfg.TrustedProxies = cfg.TrustedProxies
		fiberCfg.ProxyHeader = fiber.HeaderXForwardedFor
	}
	app := fiber.New(fiberCfg)

	auth := api.JWTAuth(api.AuthConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	}, logger.Named("auth"))

	api.RegisterRoutes(app, nc, st,
		auth,
		api.RateLimit(rateMgr),
		api.NewPoolHandler(logger.Named("api.pool"), alloc),
		api.NewAdminHandler(logger.Named("api.admin"), alloc),
	)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("["+cfg.ServiceName+"] running",
		"env", cfg.Env,
		"nats", cfg.NATSURL != "",
		"amqp", cfg.AMQPURL != "",
		"audit", st.PG != nil,
		"sweep_interval", cfg.SweepInterval)

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	close(stopCleaner)
	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	bus.Drain()
	if amqpPub != nil {
		if err := amqpPub.Close(); err != nil {
			logg.Warnw("amqp.close_failed", "error", err)
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
