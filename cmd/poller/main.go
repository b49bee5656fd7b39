package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/outbox"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/storage"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := storage.OpenPostgres(cfg.Postgres, false)
	if err != nil {
		log.Fatalf("%v", err)
	}

	kw := storage.NewKafkaWriter(cfg.Kafka)
	if kw == nil {
		log.Fatalf("kafka.brokers is required for the poller")
	}
	defer kw.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository := repo.NewRepository(gdb, nil, kw, cfg.Redis.TTL, log)
	relay := outbox.NewRelay(repository, cfg.Kafka.BatchSize, cfg.Kafka.PollInterval, log)
	if err := relay.Run(ctx); err != nil {
		log.Errorf("relay: %v", err)
	}
}
