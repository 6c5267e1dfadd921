package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/breaker"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logging"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(logging.Options{Service: cfg.ServiceName, Level: cfg.LogLevel, File: cfg.LogFile})

	if err := run(cfg, log); err != nil {
		log.Error("order service stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer (fire and forget)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
	prod.Start(ctx)

	// customer directory behind its breaker
	cb := breaker.New("user-directory", breaker.Settings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenCalls,
		OnStateChange: func(name string, from, to breaker.State) {
			customers.BreakerGauge(name, from, to)
			log.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	gateway := &customers.Gateway{
		Directory: &customers.HTTPDirectory{BaseURL: cfg.DirectoryURL, Client: &http.Client{Timeout: cfg.LookupTimeout}},
		Breaker:   cb,
		Timeout:   cfg.LookupTimeout,
		Log:       log,
	}

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:       repo,
		Catalog:     repo,
		Customers:   gateway,
		Publisher:   prod,
		Cache:       &redisx.StatusCache{RDB: rdb},
		Idem:        &redisx.Idempotency{RDB: rdb},
		Log:         log,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Orders: svc,
		Tokens: &auth.Tokens{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
	}
	oh.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// payment results
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, orders.TopicPaymentEvents,
		cfg.ConsumerWorkers, kafkax.SkipOnError, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("payment result consumer started", "group", cfg.ConsumerGroup, "workers", cfg.ConsumerWorkers)
		return cons.Start(gctx, svc.HandlePaymentProcessed)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	prod.Close()      // flush buffered events
	prod.WaitClosed() // drain
	return err
}
