package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mealdash/orderflow/config"
	orderapp "github.com/mealdash/orderflow/internal/order/application"
	orderpg "github.com/mealdash/orderflow/internal/order/infrastructure/postgres"
	orderredis "github.com/mealdash/orderflow/internal/order/infrastructure/redis"
	payapp "github.com/mealdash/orderflow/internal/payment/application"
	"github.com/mealdash/orderflow/internal/payment/gateway"
	paypg "github.com/mealdash/orderflow/internal/payment/infrastructure/postgres"
	"github.com/mealdash/orderflow/internal/realtime"
	refundapp "github.com/mealdash/orderflow/internal/refund/application"
	refundpg "github.com/mealdash/orderflow/internal/refund/infrastructure/postgres"
	trackapp "github.com/mealdash/orderflow/internal/tracking/application"
	trackpg "github.com/mealdash/orderflow/internal/tracking/infrastructure/postgres"
	transport "github.com/mealdash/orderflow/internal/transport/http"
	"github.com/mealdash/orderflow/pkg/idempotency"
	"github.com/mealdash/orderflow/pkg/logging"
	"github.com/mealdash/orderflow/pkg/outbox"
	"github.com/mealdash/orderflow/pkg/shutdown"
	"github.com/mealdash/orderflow/pkg/tracing"
)

func main() {
	log := logging.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint, log)
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "err", err)
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		log.Error("postgres connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer producer.Close()

	hub := realtime.NewHub(log)

	orderRepo := orderpg.NewRepository(log, pool)
	directory := orderpg.NewDirectory(pool)
	roster := orderredis.NewRoster(rdb)
	trackingRepo := trackpg.NewRepository(log, pool)

	trackingSvc := trackapp.NewService(log, trackingRepo, orderRepo, directory, hub, nil)

	orderSvc := orderapp.NewService(orderapp.Deps{
		Log:         log,
		Orders:      orderRepo,
		Restaurants: directory,
		Menu:        directory,
		Couriers:    roster,
		Tracking:    trackingSvc,
		Hub:         hub,
	})

	gatewayClient := gateway.NewClient(cfg.Gateway)
	paymentSvc := payapp.NewService(payapp.Deps{
		Log:      log,
		Orders:   paypg.NewRepository(log, pool),
		Redirect: gatewayClient,
		Marks:    idempotency.NewStore(rdb, 24*time.Hour),
		Hub:      hub,
		Secret:   cfg.Gateway.Secret,
	})

	refundSvc := refundapp.NewService(refundapp.Deps{
		Log:     log,
		Refunds: refundpg.NewRepository(log, pool),
		Orders:  orderRepo,
		Owners:  directory,
		Gateway: gatewayClient,
		Hub:     hub,
	})

	relay := outbox.NewRelay(log,
		orderpg.NewOutboxStore(log, pool),
		outbox.NewDispatcher(log, producer, cfg.Kafka.OrderTopic),
		cfg.Kafka.RelayID)
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("outbox relay stopped", "err", err)
		}
	}()

	handler := transport.NewHandler(log, orderSvc, trackingSvc, paymentSvc, refundSvc,
		roster, realtime.NewWSHandler(log, hub))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
