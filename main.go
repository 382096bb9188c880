package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-event-inventory/internal/api"
	"ms-event-inventory/internal/auth"
	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/config"
	"ms-event-inventory/internal/database"
	"ms-event-inventory/internal/inventory"
	"ms-event-inventory/internal/kafka"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/notify"
	"ms-event-inventory/internal/reservation"
	"ms-event-inventory/internal/sse"
	"ms-event-inventory/internal/statistics"
	"ms-event-inventory/internal/store"
	"ms-event-inventory/internal/store/redislock"
	"ms-event-inventory/internal/sweeper"
)

func main() {
	log := logger.NewLogger("event-inventory")
	defer log.Close()

	log.Info("APP", "Starting Event Inventory Service initialization")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	var storeOpts []store.Option
	if cfg.Redis.Enabled {
		redisClient, err := redislock.Connect(ctx, cfg.Redis.Addr, log)
		if err != nil {
			log.Fatal("REDIS", err.Error())
		}
		defer redisClient.Close()
		storeOpts = append(storeOpts, store.WithLocker(redislock.New(redisClient,
			redislock.WithTTL(cfg.Redis.LockTTL),
			redislock.WithWait(cfg.Redis.LockWait, 25*time.Millisecond),
		)))
		log.Info("REDIS", "Event locks enabled")
	}
	db := store.New(bunDB, storeOpts...)

	emitter := sse.NewEventEmitter()
	notifiers := notify.Multi{emitter}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, kafka.Topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		notifiers = append(notifiers, kafka.NewNotifier(producer, log))
	}

	clk := clock.NewSystem()
	lc := lifecycle.New(db, clk, lifecycle.WithNotifier(notifiers), lifecycle.WithLogger(log))
	inv := inventory.New(db, clk, inventory.WithNotifier(notifiers), inventory.WithLogger(log))
	res := reservation.New(db, inv, clk,
		reservation.WithNotifier(notifiers),
		reservation.WithLogger(log),
		reservation.WithDefaultTTL(cfg.Reservation.DefaultTTL),
		reservation.WithBatchSize(cfg.Reservation.BatchSize),
	)

	var authMiddleware, managerMiddleware func(http.Handler) http.Handler
	if cfg.Auth.Issuer != "" {
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.Issuer)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		authMiddleware = auth.Middleware(verifier)
		log.Info("AUTH", fmt.Sprintf("JWT middleware applied to protected routes, issuer %s", cfg.Auth.Issuer))
		if cfg.Auth.ManagerRole != "" {
			managerMiddleware = auth.RequireRole(cfg.Auth.ManagerRole)
			log.Info("AUTH", fmt.Sprintf("Event management requires role %s", cfg.Auth.ManagerRole))
		}
	} else {
		log.Warn("AUTH", "OIDC_ISSUER not set, write routes are unauthenticated")
	}

	handler := api.NewHandler(lc, inv, res, statistics.NewService(db), emitter, log)

	var workers sync.WaitGroup
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.GroupID, res, producer, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			defer consumer.Close()
			if err := consumer.Run(ctx); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Payment outcome consumer stopped: %v", err))
			}
		}()
	}
	if cfg.Sweeper.Enabled {
		s := sweeper.New(lc, res, clk, cfg.Sweeper.Interval, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.Run(ctx)
		}()
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Router(authMiddleware, managerMiddleware),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Event Inventory Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	workers.Wait()
	log.Info("APP", "✅ Event Inventory Service shutdown complete")
}
