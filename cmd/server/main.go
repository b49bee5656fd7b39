package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/richardliu001/wallet-ledger/internal/storage"
	httptransport "github.com/richardliu001/wallet-ledger/internal/transport/http"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

func main() {
	// 1. load config
	cfg, err := config.Load(configPath())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := storage.OpenPostgres(cfg.Postgres, true)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// 4. redis (optional)
	rdb, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if rdb == nil {
		log.Warn("redis not configured, balance cache disabled")
	}

	// 5. repo & service; the server only writes the outbox, the poller publishes
	repository := repo.NewRepository(gdb, rdb, nil, cfg.Redis.TTL, log)
	svc := service.NewWalletService(repository, log, service.Options{OverdraftTypes: cfg.Ledger.OverdraftTypes})

	// 6. webhook
	disp := notify.NewDispatcher(notify.New(cfg.Webhook), cfg.Webhook.Timeout, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, disp, httptransport.RouterConfig{
		RateLimit: cfg.RateLimit,
		TxTimeout: cfg.Ledger.TxTimeout,
	}, log)

	// 8. serve
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infof("wallet-ledger listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	disp.Wait()
}
