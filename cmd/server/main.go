package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-registration/internal/app"
	"arena-registration/internal/config"
	"arena-registration/internal/logger"
	"arena-registration/internal/middleware"
	"arena-registration/internal/server"
	"arena-registration/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service:   "arena-registration",
		Env:       cfg.Server.Env,
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
	})

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.AutoMigrate {
		if err := a.DB.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.Carts.CheckoutLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Carts.CheckoutLimit, cfg.Carts.CheckoutWindow)
	}

	srv := server.New(cfg.Server.Addr(), a.Router(limiter), log, cfg.Server.ShutdownTimeout)

	if limiter != nil {
		srv.AddWorker(func(ctx context.Context) error {
			limiter.Run(ctx, time.Minute)
			return nil
		})
	}

	// Expire carts whose provider never answered
	if cfg.Carts.ExpiryInterval > 0 {
		expiry := services.NewCartExpiryService(a.Ledger, cfg.Carts.ProcessingTTL, cfg.Carts.ExpiryInterval, log)
		srv.AddWorker(expiry.Run)
	}

	log.Info("providers configured", "etupay", a.Etupay != nil, "stripe", a.Stripe != nil)
	return srv.Run(ctx)
}
