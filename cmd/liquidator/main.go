// Command liquidator runs the asset liquidation engine: the HTTP API, the
// workflow services behind it, and the background sweeper.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/api"
	"github.com/assetflow/liquidation-engine/internal/compliance"
	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/eligibility"
	"github.com/assetflow/liquidation-engine/internal/executor"
	"github.com/assetflow/liquidation-engine/internal/gateway"
	"github.com/assetflow/liquidation-engine/internal/liquidation"
	"github.com/assetflow/liquidation-engine/internal/liquidity"
	"github.com/assetflow/liquidation-engine/internal/quote"
	"github.com/assetflow/liquidation-engine/internal/storage"
	"github.com/assetflow/liquidation-engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// .env is a local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("liquidator exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	store, err := storage.OpenPostgres(cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	sqlDB, err := store.DB().DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	defer sqlDB.Close()

	if err := store.AutoMigrate(); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	events := liquidation.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer events.Close()

	gw := cfg.Gateways
	pricing := gateway.NewPricingClient(gw.PricingURL, gw.Timeout, log)
	screening := gateway.NewScreeningClient(gw.ComplianceURL, gw.Timeout, log)
	rail := gateway.NewRailClient(gw.RailURL, gw.Timeout, log)
	ledger := gateway.NewLedgerClient(gw.LedgerURL, gw.Timeout, log)
	kyc := gateway.NewKYCClient(gw.ComplianceURL, gw.Timeout, log)

	quotes := quote.NewService(pricing, quote.NewRedisCache(redisClient), store, cfg.Liquidation, log)
	comp := compliance.NewOrchestrator(store, compliance.NewProviderCheckers(screening), cfg.Liquidation, log)
	matcher := liquidity.NewMatcher(store, nil, log)
	exec := executor.New(store, rail, cfg.Liquidation, log)
	registry := eligibility.NewRegistry(store, eligibility.NewStoreUsage(store, ledger), log)

	svc := liquidation.NewService(store, registry, quotes, comp, matcher, exec,
		kyc, ledger, events, cfg.Liquidation, log)
	providers := liquidity.NewProviderService(store, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := liquidation.NewSweeper(store, svc,
		cfg.Liquidation.SweepInterval, cfg.Liquidation.RepollInterval, log)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewHandler(svc, providers, log).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("liquidator listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
