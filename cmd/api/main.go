package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	"github.com/medsurplus/vendorchat/internal/credstore"
	"github.com/medsurplus/vendorchat/internal/handler"
	chathandler "github.com/medsurplus/vendorchat/internal/handler/chat"
	"github.com/medsurplus/vendorchat/internal/service/assistant"
	authservice "github.com/medsurplus/vendorchat/internal/service/auth"
	"github.com/medsurplus/vendorchat/internal/service/coordinator"
	marketservice "github.com/medsurplus/vendorchat/internal/service/market"
	reportservice "github.com/medsurplus/vendorchat/internal/service/report"
	"github.com/medsurplus/vendorchat/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	creds, err := credstore.Open(cfg.Server.CredentialsPath)
	if err != nil {
		logger.Fatal("failed to open credential store", zap.Error(err))
	}
	defer creds.Close()

	authSvc := authservice.NewService(cfg.Auth, creds, logger)
	if err := authSvc.Restore(); err != nil {
		logger.Warn("failed to restore persisted session", zap.Error(err))
	} else if authSvc.IsAuthenticated() {
		logger.Info("restored persisted session")
	}

	repo := store.New(cfg.Store, logger)

	threads := assistant.NewThreads()
	runner := assistant.NewService(cfg.Assistant, threads, logger)
	coord := coordinator.New(repo, runner, cfg.Assistant, logger)

	chatHandler := chathandler.New(coord, repo, runner, authSvc, logger)

	var reports *reportservice.Service
	if cfg.Reports.Enabled() {
		reports = reportservice.New(cfg.Reports, logger)
		logger.Info("report service enabled")
	} else {
		logger.Info("report endpoints not configured, report routes disabled")
	}

	var market *marketservice.Service
	if cfg.Market.Enabled() {
		market = marketservice.New(cfg.Market, logger)
		logger.Info("market lookup service enabled")
	} else {
		logger.Info("market lookup not configured, market routes disabled")
	}

	router := handler.NewRouter(handler.Deps{
		Logger:       logger,
		Auth:         authSvc,
		Chat:         chatHandler,
		Reports:      reports,
		Market:       market,
		ParentOrigin: cfg.Server.ParentOrigin,
		CORSOrigin:   cfg.Server.CORSOrigin,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("vendor chat backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
