package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"arena-registration/internal/models"
	"arena-registration/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etupayPath(payload string) string {
	return "/etupay/callback?" + url.Values{"payload": {payload}}.Encode()
}

func TestEtupayCallback_Paid(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID := ts.processingCart(t, "alice")

	rr := ts.do(t, request{method: "POST", path: etupayPath(ts.etupayPayload(t, cartID, "PAID")), remote: "10.1.2.3:4455"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"api":"ok"}`, rr.Body.String())
	assert.Equal(t, models.TransactionPaid, ts.cartState(t, cartID))

	cart, _ := ts.store.Cart(cartID)
	require.NotNil(t, cart.TransactionID)
	assert.Equal(t, "9001", *cart.TransactionID)
}

func TestEtupayCallback_PayloadInForm(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID := ts.processingCart(t, "alice")

	rr := ts.do(t, request{
		method: "POST",
		path:   "/etupay/callback",
		body:   url.Values{"payload": {ts.etupayPayload(t, cartID, "REFUSED")}}.Encode(),
		remote: "10.1.2.3:4455",
		header: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.TransactionRefused, ts.cartState(t, cartID))
}

func TestEtupayCallback_Replay(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID := ts.processingCart(t, "alice")
	path := etupayPath(ts.etupayPayload(t, cartID, "PAID"))

	for i := 0; i < 2; i++ {
		rr := ts.do(t, request{method: "POST", path: path, remote: "10.1.2.3:4455"})
		require.Equal(t, http.StatusOK, rr.Code, "delivery %d: %s", i+1, rr.Body.String())
	}

	// A conflicting outcome for a paid cart is an anomaly, not a replay
	rr := ts.do(t, request{method: "POST", path: etupayPath(ts.etupayPayload(t, cartID, "REFUSED")), remote: "10.1.2.3:4455"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, models.ErrAlreadyPaid, errorKind(t, rr))
	assert.Equal(t, models.TransactionPaid, ts.cartState(t, cartID))
}

func TestEtupayCallback_Rejections(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID := ts.processingCart(t, "alice")
	valid := ts.etupayPayload(t, cartID, "PAID")

	tests := []struct {
		name   string
		path   string
		remote string
		status int
		kind   models.ErrorKind
	}{
		{"outside provider range", etupayPath(valid), "192.168.1.10:4455", http.StatusForbidden, models.ErrEtupayNoAccess},
		{"forwarded header is not trusted", etupayPath(valid), "203.0.113.9:80", http.StatusForbidden, models.ErrEtupayNoAccess},
		{"missing payload", "/etupay/callback", "10.1.2.3:4455", http.StatusBadRequest, models.ErrInvalidQueryParameters},
		{"garbage payload", etupayPath("bm90IGEgcGF5bG9hZA=="), "10.1.2.3:4455", http.StatusBadRequest, models.ErrInvalidQueryParameters},
		{"unknown step", etupayPath(ts.etupayPayload(t, cartID, "AUTHORISATION")), "10.1.2.3:4455", http.StatusBadRequest, models.ErrInvalidQueryParameters},
		{"unknown cart", etupayPath(ts.etupayPayload(t, "missing", "PAID")), "10.1.2.3:4455", http.StatusNotFound, models.ErrCartNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, request{
				method: "POST",
				path:   tt.path,
				remote: tt.remote,
				header: map[string]string{"X-Forwarded-For": "10.0.0.1"},
			})

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.kind, errorKind(t, rr))
		})
	}

	assert.Equal(t, models.TransactionProcessing, ts.cartState(t, cartID))
}

func TestEtupayRedirect(t *testing.T) {
	tests := []struct {
		step     string
		location string
		state    models.TransactionState
	}{
		{"PAID", "https://arena.test/payment/success", models.TransactionPaid},
		{"REFUSED", "https://arena.test/payment/error", models.TransactionRefused},
		{"CANCELED", "https://arena.test/payment/error", models.TransactionCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			ts := newTestServer(t)
			ts.user("alice", models.UserTypePlayer)
			cartID := ts.processingCart(t, "alice")

			// The browser may come from anywhere
			rr := ts.do(t, request{method: "GET", path: etupayPath(ts.etupayPayload(t, cartID, tt.step)), remote: "198.51.100.7:5000"})

			assert.Equal(t, http.StatusFound, rr.Code)
			assert.Equal(t, tt.location, rr.Header().Get("Location"))
			assert.Equal(t, tt.state, ts.cartState(t, cartID))
		})
	}
}

// stripeCart checks out a ticket with Stripe and returns the cart and payment intent ids
func (ts *testServer) stripeCart(t *testing.T, userID string) (string, string) {
	t.Helper()
	rr := ts.do(t, request{
		method: "POST",
		path:   "/carts",
		user:   userID,
		body: services.CheckoutRequest{
			Items:    []models.CartItemRequest{{ItemID: "ticket-player", Quantity: 1}},
			Provider: models.ProviderStripe,
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	result := decode[services.CheckoutResult](t, rr)
	return result.Cart.ID, result.PaymentIntentID
}

func (ts *testServer) stripeWebhook(t *testing.T, path string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	if signature == "" {
		signature = ts.stripe.SignPayload(body, ts.stripeNow)
	}
	return ts.do(t, request{
		method: "POST",
		path:   path,
		body:   body,
		header: map[string]string{"Stripe-Signature": signature, "Content-Type": "application/json"},
	})
}

func intentEvent(id, eventType, intentID, status string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","status":%q}}}`,
		id, eventType, intentID, status))
}

func TestStripeWebhook_Succeeded(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID, intentID := ts.stripeCart(t, "alice")
	ts.stripeAPI.setStatus(intentID, "succeeded")

	body := intentEvent("evt_1", services.StripePaymentSucceeded, intentID, "succeeded")
	rr := ts.stripeWebhook(t, "/stripe/payment-succeeded", body, "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"api":"ok"}`, rr.Body.String())
	assert.Equal(t, models.TransactionPaid, ts.cartState(t, cartID))

	// Same event delivered again
	rr = ts.stripeWebhook(t, "/stripe/payment-succeeded", body, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStripeWebhook_CheckoutCompletedAndCanceled(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID, intentID := ts.stripeCart(t, "alice")

	completed := []byte(fmt.Sprintf(`{"id":"evt_cs","type":%q,"data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":%q,"metadata":{"cart_id":%q}}}}`,
		services.StripeCheckoutCompleted, intentID, cartID))
	rr := ts.stripeWebhook(t, "/stripe/checkout-completed", completed, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.TransactionProcessing, ts.cartState(t, cartID))

	ts.stripeAPI.setStatus(intentID, "canceled")
	rr = ts.stripeWebhook(t, "/stripe/payment-canceled", intentEvent("evt_2", services.StripePaymentCanceled, intentID, "canceled"), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.TransactionCanceled, ts.cartState(t, cartID))

	// A late processing event does not resurrect the cart
	rr = ts.stripeWebhook(t, "/stripe/payment-processing", intentEvent("evt_3", services.StripePaymentProcessing, intentID, "processing"), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.TransactionCanceled, ts.cartState(t, cartID))
}

func TestStripeWebhook_Rejections(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID, intentID := ts.stripeCart(t, "alice")

	succeeded := intentEvent("evt_1", services.StripePaymentSucceeded, intentID, "succeeded")

	tests := []struct {
		name      string
		path      string
		body      []byte
		signature string
		status    int
		kind      models.ErrorKind
	}{
		{
			name:      "bad signature",
			path:      "/stripe/payment-succeeded",
			body:      succeeded,
			signature: fmt.Sprintf("t=%d,v1=%s", ts.stripeNow.Unix(), strings.Repeat("0", 64)),
			status:    http.StatusUnauthorized,
			kind:      models.ErrInvalidStripeSignature,
		},
		{
			name:   "remote intent not succeeded",
			path:   "/stripe/payment-succeeded",
			body:   succeeded,
			status: http.StatusUnauthorized,
			kind:   models.ErrPleaseDontPlayWithStripeWebhooks,
		},
		{
			name:   "unknown payment intent",
			path:   "/stripe/payment-succeeded",
			body:   intentEvent("evt_2", services.StripePaymentSucceeded, "pi_forged", "succeeded"),
			status: http.StatusNotFound,
			kind:   models.ErrCartNotFound,
		},
		{
			name:   "event sent to the wrong endpoint",
			path:   "/stripe/payment-canceled",
			body:   succeeded,
			status: http.StatusBadRequest,
			kind:   models.ErrInvalidQueryParameters,
		},
		{
			name:   "not json",
			path:   "/stripe/payment-succeeded",
			body:   []byte("not json"),
			status: http.StatusBadRequest,
			kind:   models.ErrInvalidQueryParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.stripeWebhook(t, tt.path, tt.body, tt.signature)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.kind, errorKind(t, rr))
		})
	}

	assert.Equal(t, models.TransactionProcessing, ts.cartState(t, cartID))
}

func TestStripeWebhook_UnknownCartSkipsRemoteCheck(t *testing.T) {
	ts := newTestServer(t)
	before := ts.stripeAPI.lookupCount()

	for _, path := range []string{"/stripe/payment-succeeded", "/stripe/payment-canceled"} {
		eventType := services.StripePaymentSucceeded
		status := "succeeded"
		if path == "/stripe/payment-canceled" {
			eventType, status = services.StripePaymentCanceled, "canceled"
		}

		rr := ts.stripeWebhook(t, path, intentEvent("evt_x", eventType, "pi_unknown", status), "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, models.ErrCartNotFound, errorKind(t, rr))
	}

	assert.Equal(t, before, ts.stripeAPI.lookupCount())
}

func TestStripeWebhook_IntentMissingAtStripe(t *testing.T) {
	ts := newTestServer(t)
	ts.user("alice", models.UserTypePlayer)
	cartID, intentID := ts.stripeCart(t, "alice")
	ts.stripeAPI.forget(intentID)

	rr := ts.stripeWebhook(t, "/stripe/payment-succeeded", intentEvent("evt_1", services.StripePaymentSucceeded, intentID, "succeeded"), "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, models.ErrPleaseDontPlayWithStripeWebhooks, errorKind(t, rr))
	assert.Equal(t, models.TransactionProcessing, ts.cartState(t, cartID))
}
