package handlers

import (
	"log/slog"
	"net/http"

	"arena-registration/internal/middleware"
	"arena-registration/internal/models"
	"arena-registration/internal/services"

	"github.com/go-chi/chi/v5"
)

// CartHandler serves checkout and cart reads for the authenticated user
type CartHandler struct {
	checkout services.CheckoutServiceInterface
	ledger   services.LedgerServiceInterface
	logger   *slog.Logger
}

// NewCartHandler creates a new cart handler
func NewCartHandler(checkout services.CheckoutServiceInterface, ledger services.LedgerServiceInterface, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		checkout: checkout,
		ledger:   ledger,
		logger:   logger,
	}
}

// Checkout creates a cart for the current user and initiates its payment
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req services.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.PayerID = middleware.GetUserIDFromContext(r.Context())

	result, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GetCart returns one of the current user's carts
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	cart, err := h.ledger.FetchCart(r.Context(), cartID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// Other users' carts are reported as missing
	if cart.UserID != middleware.GetUserIDFromContext(r.Context()) {
		writeError(w, r, h.logger, models.NewError(models.ErrCartNotFound, "cart %s not found", cartID))
		return
	}

	writeJSON(w, http.StatusOK, cart)
}
