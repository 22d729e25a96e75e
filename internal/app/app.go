package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"arena-registration/internal/config"
	"arena-registration/internal/database"
	"arena-registration/internal/handlers"
	"arena-registration/internal/middleware"
	"arena-registration/internal/repositories"
	"arena-registration/internal/services"
	"arena-registration/internal/utils"
)

// App holds the services of one process and the connections they use
type App struct {
	DB         *database.DB
	Store      repositories.Store
	Gate       *services.CapacityGate
	Ledger     *services.Ledger
	Roster     *services.RosterService
	Settlement *services.SettlementService
	Checkout   *services.CheckoutService
	Etupay     *services.EtupayService
	Stripe     *services.StripeService

	config  *config.Config
	logger  *slog.Logger
	closers []func() error
}

// DatabaseConfig maps the loaded configuration to the connection settings
func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
}

// New connects to the database and the optional brokers, and wires the services
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	// Initialize database connection
	db, err := database.NewConnection(ctx, DatabaseConfig(cfg))
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := a.wire(ctx, repositories.NewPostgresStore(db.DB)); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, store repositories.Store) error {
	cfg := a.config
	a.Store = store

	// Payment outcome notifications
	var notifier services.Notifier = services.NewLogNotifier(a.logger)
	if cfg.AMQP.URL != "" {
		amqpNotifier, err := services.NewAMQPNotifier(cfg.AMQP.URL, cfg.AMQP.Exchange, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, amqpNotifier.Close)
		notifier = amqpNotifier
		a.logger.Info("payment notifications enabled", "exchange", cfg.AMQP.Exchange)
	}

	// Webhook event deduplication
	var deduper services.EventDeduper
	if cfg.Redis.Addr != "" {
		client, err := services.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		deduper = services.NewRedisEventDeduper(client, cfg.Redis.EventTTL)
		a.logger.Info("webhook deduplication enabled", "addr", cfg.Redis.Addr)
	}

	// Payment providers
	if cfg.Etupay.Key != "" {
		key, err := utils.DecodeKey(cfg.Etupay.Key)
		if err != nil {
			return fmt.Errorf("invalid etupay key: %w", err)
		}
		a.Etupay, err = services.NewEtupayService(services.EtupayConfig{
			Key:          key,
			ServiceID:    cfg.Etupay.ServiceID,
			Endpoint:     cfg.Etupay.Endpoint,
			AllowedCIDRs: cfg.Etupay.AllowedCIDRs,
			SuccessURL:   cfg.Etupay.SuccessURL,
			ErrorURL:     cfg.Etupay.ErrorURL,
		})
		if err != nil {
			return err
		}
	}
	if cfg.Stripe.SecretKey != "" {
		a.Stripe = services.NewStripeService(services.StripeConfig{
			SecretKey:       cfg.Stripe.SecretKey,
			WebhookSecret:   cfg.Stripe.WebhookSecret,
			APIBase:         cfg.Stripe.APIBase,
			Currency:        cfg.Stripe.Currency,
			SignatureMaxAge: cfg.Stripe.SignatureMaxAge,
		}, a.logger, nil)
	}

	// Initialize services
	a.Gate = services.NewCapacityGate(store, services.NewPromotionScheduler(a.logger, nil), a.logger, nil)
	a.Ledger = services.NewLedger(store, a.Gate, notifier, a.logger, nil)
	a.Roster = services.NewRosterService(store, a.Gate, a.logger, nil)
	a.Settlement = services.NewSettlementService(a.Ledger, deduper, a.logger)
	a.Checkout = services.NewCheckoutService(store, a.Ledger, a.Etupay, a.Stripe, a.logger)
	return nil
}

// Router builds the HTTP API on top of the services
func (a *App) Router(limiter *middleware.RateLimiter) http.Handler {
	var pinger handlers.Pinger
	if a.DB != nil {
		pinger = a.DB
	}

	return handlers.NewRouter(handlers.RouterConfig{
		Payments:        handlers.NewPaymentHandler(a.Settlement, a.Etupay, a.Stripe, a.logger),
		Carts:           handlers.NewCartHandler(a.Checkout, a.Ledger, a.logger),
		Teams:           handlers.NewTeamHandler(a.Roster, a.Gate, a.logger),
		Admin:           handlers.NewAdminHandler(a.Ledger, a.Gate, a.Roster, a.logger, a.config.Carts.ProcessingTTL),
		Health:          handlers.NewHealthHandler(pinger, a.logger),
		Logger:          a.logger,
		AdminToken:      a.config.Admin.Token,
		AllowedOrigins:  a.config.Server.AllowedOrigins,
		CheckoutLimiter: limiter,
		RequestTimeout:  a.config.Server.RequestTimeout,
	})
}

// Close releases connections in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
