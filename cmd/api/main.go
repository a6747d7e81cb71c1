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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/api"
	"github.com/punchamoorthee/flexyledger/internal/auth"
	"github.com/punchamoorthee/flexyledger/internal/config"
	"github.com/punchamoorthee/flexyledger/internal/logging"
	"github.com/punchamoorthee/flexyledger/internal/pricing"
	"github.com/punchamoorthee/flexyledger/internal/provider"
	"github.com/punchamoorthee/flexyledger/internal/service"
	"github.com/punchamoorthee/flexyledger/internal/session"
	"github.com/punchamoorthee/flexyledger/internal/store"
	"github.com/punchamoorthee/flexyledger/internal/store/memory"
	"github.com/punchamoorthee/flexyledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	revoker, err := openRevoker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer revoker.Close()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	client := provider.NewClient(provider.Config{
		BaseURL:     cfg.Provider.BaseURL,
		PublicKey:   cfg.Provider.PublicKey,
		CountryCode: cfg.Provider.CountryCode,
		WebhookURL:  cfg.Provider.WebhookURL,
		Timeout:     cfg.Provider.Timeout,
	})

	table := pricing.NewTable(cfg.Pricing.Discounts, cfg.Pricing.PlanDiscount)
	topups := service.NewTopupService(st, client, table, service.TopupConfig{
		MinValue:        decimal.NewFromFloat(cfg.TopupMinValue),
		MaxValue:        decimal.NewFromFloat(cfg.TopupMaxValue),
		WebhookSecret:   cfg.Provider.SecretKey,
		ProviderTimeout: cfg.Provider.Timeout,
	}, logger)
	accounts := service.NewAccountService(st, logger)
	authSvc := service.NewAuthService(st, issuer, revoker, logger)

	created, err := accounts.EnsureAdministrator(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		logger.Info("bootstrap administrator created", zap.String("username", cfg.AdminUsername))
	}

	handler := api.NewHandler(st, topups, accounts, authSvc, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store, data will not survive a restart")
		return memory.New(), nil
	}

	st, err := postgres.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func openRevoker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Revoker, error) {
	if cfg.RedisAddr == "" {
		logger.Info("no REDIS_ADDR configured, token revocation is per-process")
		return session.NewMemoryRevoker(), nil
	}
	return session.NewRedisRevoker(ctx, cfg.RedisAddr)
}
