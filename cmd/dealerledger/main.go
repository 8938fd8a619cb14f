package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/dealerledger/internal/app"
	audithttp "github.com/odyssey-erp/dealerledger/internal/audit/http"
	"github.com/odyssey-erp/dealerledger/internal/inventory"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	svc, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer svc.Close(logger)

	inspector := asynq.NewInspector(cfg.RedisOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PostingHandler:   posting.NewHandler(svc.Posting, svc.Idem, logger),
		InventoryHandler: inventory.NewHandler(logger, svc.Inventory),
		AuditHandler:     audithttp.NewHandler(logger, svc.Audit),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          svc.Metrics,
		Readiness:        svc.Readiness(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
