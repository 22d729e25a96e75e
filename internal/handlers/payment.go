package handlers

import (
	"log/slog"
	"net/http"

	"arena-registration/internal/services"
)

// PaymentHandler receives provider callbacks and applies them through settlement
type PaymentHandler struct {
	settlement services.SettlementServiceInterface
	etupay     *services.EtupayService
	stripe     *services.StripeService
	logger     *slog.Logger
}

// NewPaymentHandler creates a new payment handler. A nil provider disables its routes.
func NewPaymentHandler(settlement services.SettlementServiceInterface, etupay *services.EtupayService, stripe *services.StripeService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		settlement: settlement,
		etupay:     etupay,
		stripe:     stripe,
		logger:     logger,
	}
}

// EtupayRedirect handles the browser coming back from the provider checkout
func (h *PaymentHandler) EtupayRedirect(w http.ResponseWriter, r *http.Request) {
	event, err := h.etupay.Decode(r.URL.Query().Get("payload"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err := h.settlement.Apply(r.Context(), *event); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.Redirect(w, r, h.etupay.RedirectURL(event.Outcome), http.StatusFound)
}

// EtupayCallback handles the server-to-server notification. Only the
// provider's network may call it; the check uses the socket address.
func (h *PaymentHandler) EtupayCallback(w http.ResponseWriter, r *http.Request) {
	if err := h.etupay.CheckOrigin(r.RemoteAddr); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	payload := r.URL.Query().Get("payload")
	if payload == "" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err == nil {
			payload = r.PostForm.Get("payload")
		}
	}

	event, err := h.etupay.Decode(payload)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err := h.settlement.Apply(r.Context(), *event); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse)
}

// StripeWebhook returns the handler of the endpoint dedicated to eventType
func (h *PaymentHandler) StripeWebhook(eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		event, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"), eventType)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		// Unknown carts are reported before Stripe is asked about the intent
		if _, err := h.settlement.Resolve(r.Context(), *event); err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		if err := h.stripe.ConfirmStatus(r.Context(), event); err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		result, err := h.settlement.Apply(r.Context(), *event)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		if result.Duplicate {
			h.logger.Debug("stripe event replayed", "event_id", event.EventID, "type", eventType)
		}
		writeJSON(w, http.StatusOK, okResponse)
	}
}

// stripeRoutes maps each webhook endpoint to the event type it accepts
var stripeRoutes = []struct {
	path      string
	eventType string
}{
	{"/checkout-completed", services.StripeCheckoutCompleted},
	{"/payment-processing", services.StripePaymentProcessing},
	{"/payment-succeeded", services.StripePaymentSucceeded},
	{"/payment-canceled", services.StripePaymentCanceled},
}

