package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/config"
	"ms-event-inventory/internal/database"
	"ms-event-inventory/internal/inventory"
	"ms-event-inventory/internal/kafka"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/notify"
	"ms-event-inventory/internal/reservation"
	"ms-event-inventory/internal/store"
	"ms-event-inventory/internal/store/redislock"
	"ms-event-inventory/internal/sweeper"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	log := logger.NewLogger("event-inventory-sweeper")
	defer log.Close()

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
		storeOpts = append(storeOpts, store.WithLocker(redislock.New(redisClient, redislock.WithTTL(cfg.Redis.LockTTL))))
	}
	db := store.New(bunDB, storeOpts...)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		notifier = kafka.NewNotifier(producer, log)
	}

	clk := clock.NewSystem()
	lc := lifecycle.New(db, clk, lifecycle.WithNotifier(notifier), lifecycle.WithLogger(log))
	inv := inventory.New(db, clk, inventory.WithNotifier(notifier), inventory.WithLogger(log))
	res := reservation.New(db, inv, clk,
		reservation.WithNotifier(notifier),
		reservation.WithLogger(log),
		reservation.WithBatchSize(cfg.Reservation.BatchSize),
	)

	s := sweeper.New(lc, res, clk, cfg.Sweeper.Interval, log)
	if *once {
		expired, completed := s.RunOnce(ctx)
		log.Info("SWEEP", fmt.Sprintf("Released %d reservations, completed %d events", expired, completed))
		return
	}
	s.Run(ctx)
}
