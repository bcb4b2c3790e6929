// Command paywall runs the Dory x402 paywall: an HTTP service that gates
// order acceptance behind verified x402 payments and issues one-time
// redeemable vouchers for paid orders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/friends4payments/dory-x402-gemini/internal/assets"
	"github.com/friends4payments/dory-x402-gemini/internal/config"
	"github.com/friends4payments/dory-x402-gemini/internal/facilitator"
	"github.com/friends4payments/dory-x402-gemini/internal/metrics"
	"github.com/friends4payments/dory-x402-gemini/internal/pricing"
	"github.com/friends4payments/dory-x402-gemini/internal/server"
	"github.com/friends4payments/dory-x402-gemini/internal/verifier"
	"github.com/friends4payments/dory-x402-gemini/internal/voucher"
	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("paywall exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	assetInfos := make([]assets.AssetInfo, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assetInfos = append(assetInfos, assets.AssetInfo{
			Symbol:   a.Symbol,
			Address:  a.Address,
			Decimals: a.Decimals,
		})
	}
	registry, err := assets.NewRegistry(assetInfos)
	if err != nil {
		return err
	}

	flatPrice, err := pricing.ParseFlatPrice(cfg.Payment.FlatPrice)
	if err != nil {
		return fmt.Errorf("flat price %q: %w", cfg.Payment.FlatPrice, err)
	}

	resolver := pricing.NewResolver(registry, cfg.Payment.PayTo, cfg.Payment.Network, cfg.Payment.MaxTimeoutSeconds)

	startupCtx, cancel := context.WithTimeout(context.Background(), facilitator.DefaultTimeouts.VerifyTimeout)
	defer cancel()

	store, closeStore, err := buildStore(startupCtx, cfg.Voucher)
	if err != nil {
		return err
	}
	defer closeStore()

	client := facilitator.NewClient(cfg.Payment.FacilitatorURL)
	gate := verifier.New(client, x402.ResourceInfo{
		Description: "Dory X402 paywalled order",
		MimeType:    "application/json",
	}, cfg.Payment.VerifyOnly, logger)

	collector := metrics.NewCollector("paywall")

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(resolver, gate, store, flatPrice, collector, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paywall listening",
			zap.String("address", cfg.Server.Address()),
			zap.String("network", cfg.Payment.Network),
			zap.String("payTo", cfg.Payment.PayTo),
			zap.String("facilitator", cfg.Payment.FacilitatorURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg config.VoucherConfig) (voucher.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		return voucher.NewMemoryStore(), func() {}, nil
	default:
		store, err := voucher.NewRedisStore(ctx, voucher.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
