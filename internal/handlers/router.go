package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"arena-registration/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires handlers and HTTP settings into the router
type RouterConfig struct {
	Payments   *PaymentHandler
	Carts      *CartHandler
	Teams      *TeamHandler
	Admin      *AdminHandler
	Health     *HealthHandler
	Logger     *slog.Logger
	AdminToken string

	AllowedOrigins []string
	// CheckoutLimiter bounds checkouts per user; nil disables the limit
	CheckoutLimiter *middleware.RateLimiter
	RequestTimeout  time.Duration
}

// NewRouter builds the HTTP API
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Webhook origin checks read RemoteAddr, so RealIP is not installed
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.LoadUser)
	r.Use(middleware.LoggingMiddleware(cfg.Logger))
	r.Use(middleware.ErrorHandlingMiddleware(cfg.Logger))
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", cfg.Health.Health)

	// Provider callbacks
	if cfg.Payments != nil {
		if cfg.Payments.etupay != nil {
			r.Route("/etupay", func(r chi.Router) {
				r.Get("/callback", cfg.Payments.EtupayRedirect)
				r.Post("/callback", cfg.Payments.EtupayCallback)
			})
		}
		if cfg.Payments.stripe != nil {
			r.Route("/stripe", func(r chi.Router) {
				for _, route := range stripeRoutes {
					r.Post(route.path, cfg.Payments.StripeWebhook(route.eventType))
				}
			})
		}
	}

	// User API
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Route("/carts", func(r chi.Router) {
			r.With(checkoutLimit(cfg.CheckoutLimiter)...).Post("/", cfg.Carts.Checkout)
			r.Get("/{cartID}", cfg.Carts.GetCart)
		})

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", cfg.Teams.CreateTeam)
			r.Get("/{teamID}", cfg.Teams.GetTeam)
			r.Post("/{teamID}/join", cfg.Teams.JoinTeam)
			r.Delete("/{teamID}/members/{userID}", cfg.Teams.RemoveMember)
			r.Put("/{teamID}/captain/{userID}", cfg.Teams.PromoteCaptain)
		})

		r.Get("/tournaments/{tournamentID}", cfg.Teams.GetTournament)
	})

	// Admin API
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(cfg.AdminToken, cfg.Logger))

		r.Post("/users/{userID}/force-pay", cfg.Admin.ForcePay)

		r.Route("/teams/{teamID}", func(r chi.Router) {
			r.Get("/", cfg.Teams.GetTeam)
			r.Delete("/", cfg.Admin.DeleteTeam)
			r.Post("/lock", cfg.Admin.LockTeam)
			r.Post("/unlock", cfg.Admin.UnlockTeam)
			r.Post("/replace", cfg.Admin.ReplaceMember)
		})

		r.Post("/carts/expire", cfg.Admin.ExpireCarts)
		r.Get("/carts/{cartID}", cfg.Admin.GetCart)
		r.Post("/carts/{cartID}/refund", cfg.Admin.RefundCart)

		r.Get("/tournaments/{tournamentID}", cfg.Teams.GetTournament)
	})

	return r
}

func checkoutLimit(rl *middleware.RateLimiter) []func(http.Handler) http.Handler {
	if rl == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(rl)}
}
