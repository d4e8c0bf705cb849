package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trellispay/trellis/internal/api"
	"github.com/trellispay/trellis/internal/config"
	"github.com/trellispay/trellis/internal/db"
	"github.com/trellispay/trellis/internal/gateway"
	"github.com/trellispay/trellis/internal/logger"
	"github.com/trellispay/trellis/internal/metrics"
	"github.com/trellispay/trellis/internal/receipts"
	repo "github.com/trellispay/trellis/internal/repository"
	"github.com/trellispay/trellis/internal/repository/memory"
	"github.com/trellispay/trellis/internal/repository/postgres"
	"github.com/trellispay/trellis/internal/services"
	"github.com/trellispay/trellis/internal/settlement"
	"github.com/trellispay/trellis/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repos repo.Repositories
	if cfg.Storage == "memory" {
		repos = memory.NewRepositories()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if os.Getenv("APP_MIGRATE") == "true" {
			if err := db.RunMigrations(ctx, pool); err != nil {
				log.Error("migrations", "err", err)
				os.Exit(1)
			}
		}
		repos = postgres.NewRepositories(pool)
	}

	metrics.Init()

	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()

	gw := gateway.NewBreaker(gateway.NewSandbox(cfg.GatewayLatency), cfg.GatewayTimeout)

	accessSvc := services.NewAccessService(repos.Accounts)
	accountSvc := services.NewAccountService(repos.Accounts)
	tokenSvc := services.NewTokenService(repos.Tokens, accessSvc, repos.AuditLogs)
	txnSvc := services.NewTransactionService(
		repos.Transactions,
		repos.Tokens,
		repos.Authorizations,
		repos.AuditLogs,
		accessSvc,
		gw,
		wp,
		receipts.LogSender{},
	)

	sweeper := settlement.NewSweeper(repos.Transactions, cfg.SettleAfter, cfg.SettleInterval)
	go sweeper.Run(ctx)

	r := api.NewRouter(cfg, accountSvc, tokenSvc, txnSvc)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
