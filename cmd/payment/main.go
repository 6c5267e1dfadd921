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

	"github.com/ariefcatur/go-order-saga/internal/config"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logging"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payments"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(logging.Options{Service: cfg.PaymentServiceName, Level: cfg.LogLevel, File: cfg.LogFile})

	if err := run(cfg, log); err != nil {
		// a halted consumer lands here; the message stays uncommitted
		log.Error("payment service stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
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

	// acked producer for payment results
	prod := kafkax.NewSyncProducer(cfg.KafkaBrokers, orders.TopicPaymentEvents, cfg.AckTimeout)
	defer prod.Close()

	engine := &payments.Engine{
		Records: &payments.Repo{DB: db},
		Decider: &payments.OracleDecider{
			URL:         cfg.OracleURL,
			Client:      &http.Client{Timeout: cfg.OracleTimeout},
			Timeout:     cfg.OracleTimeout,
			SuccessRate: cfg.PaymentSuccessRate,
			Log:         log,
		},
		Publisher:   prod,
		Dedup:       &redisx.Dedup{RDB: rdb, Service: cfg.PaymentServiceName},
		Log:         log,
		ServiceName: cfg.PaymentServiceName,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentGroup, orders.TopicOrderEvents,
		cfg.ConsumerWorkers, kafkax.HaltOnError, log)

	// health + metrics only
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.PaymentHTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("payment consumer started", "group", cfg.PaymentGroup, "topic", orders.TopicOrderEvents, "workers", cfg.ConsumerWorkers)
		return cons.Start(gctx, engine.HandleOrderCreated)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
