package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arena-registration/internal/logger"
	"arena-registration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

// fakeStripe serves the PaymentIntent endpoints used by StripeService
type fakeStripe struct {
	mu       sync.Mutex
	intents  map[string]string
	created  []http.Header
	forms    []map[string]string
	failPost bool
	server   *httptest.Server
}

func newFakeStripe(t *testing.T) *fakeStripe {
	t.Helper()
	fs := &fakeStripe{intents: make(map[string]string)}
	fs.server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeStripe) setStatus(id, status string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.intents[id] = status
}

func (fs *fakeStripe) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer sk_test" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
		if fs.failPost {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"type":"api_error","message":"upstream unavailable"}}`)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := make(map[string]string)
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		fs.created = append(fs.created, r.Header.Clone())
		fs.forms = append(fs.forms, form)

		id := fmt.Sprintf("pi_%d", len(fs.created))
		fs.intents[id] = "requires_payment_method"
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            id,
			"status":        "requires_payment_method",
			"amount":        json.Number(form["amount"]),
			"currency":      form["currency"],
			"client_secret": id + "_secret_abc",
			"metadata":      map[string]string{"cart_id": form["metadata[cart_id]"]},
		})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payment_intents/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/")
		status, ok := fs.intents[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent: '%s'"}}`, id)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": status, "amount": 1500, "currency": "eur"})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestStripe(t *testing.T, apiBase string, now Clock) *StripeService {
	t.Helper()
	return NewStripeService(StripeConfig{
		SecretKey:     "sk_test",
		WebhookSecret: testWebhookSecret,
		APIBase:       apiBase,
	}, logger.Discard(), now)
}

func stripeEventBody(id, eventType string, object map[string]interface{}) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":       id,
		"object":   "event",
		"type":     eventType,
		"livemode": false,
		"data":     map[string]interface{}{"object": object},
	})
	return body
}

func TestStripeService_VerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestStripe(t, "", func() time.Time { return now })
	body := []byte(`{"id":"evt_1"}`)

	tests := []struct {
		name   string
		header string
		valid  bool
	}{
		{name: "valid", header: s.SignPayload(body, now), valid: true},
		{name: "within tolerance", header: s.SignPayload(body, now.Add(-4*time.Minute)), valid: true},
		{name: "extra signatures", header: "t=" + fmt.Sprint(now.Unix()) + ",v1=deadbeef," + strings.Split(s.SignPayload(body, now), ",")[1], valid: true},
		{name: "missing", header: ""},
		{name: "malformed", header: "garbage"},
		{name: "no v1", header: fmt.Sprintf("t=%d", now.Unix())},
		{name: "too old", header: s.SignPayload(body, now.Add(-6*time.Minute))},
		{name: "from the future", header: s.SignPayload(body, now.Add(6*time.Minute))},
		{name: "wrong secret", header: newTestStripe(t, "", nil).withSecret("whsec_other").SignPayload(body, now)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.VerifySignature(body, tt.header)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, models.ErrInvalidStripeSignature, models.KindOf(err))
		})
	}

	err := s.VerifySignature([]byte(`{"id":"evt_2"}`), s.SignPayload(body, now))
	assert.Equal(t, models.ErrInvalidStripeSignature, models.KindOf(err), "signature does not cover a tampered body")
}

func (s *StripeService) withSecret(secret string) *StripeService {
	clone := *s
	clone.config.WebhookSecret = secret
	return &clone
}

func TestStripeService_ParseWebhook(t *testing.T) {
	s := newTestStripe(t, "", nil)

	tests := []struct {
		name      string
		eventType string
		object    map[string]interface{}
		expected  models.NormalizedPaymentEvent
	}{
		{
			name:      "checkout completed",
			eventType: StripeCheckoutCompleted,
			object: map[string]interface{}{
				"id":             "cs_1",
				"object":         "checkout.session",
				"payment_intent": "pi_1",
				"metadata":       map[string]string{"cart_id": "cart-1"},
				"customer_email": "alice@arena.test",
			},
			expected: models.NormalizedPaymentEvent{Provider: models.ProviderStripe, EventID: "evt_1", CartID: "cart-1", TransactionID: "pi_1", Outcome: models.OutcomeProcessing},
		},
		{
			name:      "processing",
			eventType: StripePaymentProcessing,
			object:    map[string]interface{}{"id": "pi_1", "object": "payment_intent", "status": "processing"},
			expected:  models.NormalizedPaymentEvent{Provider: models.ProviderStripe, EventID: "evt_1", TransactionID: "pi_1", Outcome: models.OutcomeProcessing},
		},
		{
			name:      "succeeded",
			eventType: StripePaymentSucceeded,
			object:    map[string]interface{}{"id": "pi_1", "object": "payment_intent", "status": "succeeded", "amount_received": 1500},
			expected:  models.NormalizedPaymentEvent{Provider: models.ProviderStripe, EventID: "evt_1", TransactionID: "pi_1", Outcome: models.OutcomePaid},
		},
		{
			name:      "canceled",
			eventType: StripePaymentCanceled,
			object:    map[string]interface{}{"id": "pi_1", "object": "payment_intent", "status": "canceled"},
			expected:  models.NormalizedPaymentEvent{Provider: models.ProviderStripe, EventID: "evt_1", TransactionID: "pi_1", Outcome: models.OutcomeCanceled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := stripeEventBody("evt_1", tt.eventType, tt.object)
			event, err := s.ParseWebhook(body, s.SignPayload(body, time.Now()), tt.eventType)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *event)
		})
	}
}

func TestStripeService_ParseWebhookErrors(t *testing.T) {
	s := newTestStripe(t, "", nil)

	wrongEndpoint := stripeEventBody("evt_1", StripePaymentSucceeded, map[string]interface{}{"id": "pi_1"})
	_, err := s.ParseWebhook(wrongEndpoint, s.SignPayload(wrongEndpoint, time.Now()), StripePaymentCanceled)
	assert.Equal(t, models.ErrInvalidQueryParameters, models.KindOf(err))

	noIntent := stripeEventBody("evt_2", StripeCheckoutCompleted, map[string]interface{}{"id": "cs_1"})
	_, err = s.ParseWebhook(noIntent, s.SignPayload(noIntent, time.Now()), StripeCheckoutCompleted)
	assert.Equal(t, models.ErrInvalidQueryParameters, models.KindOf(err))

	notJSON := []byte("{not json")
	_, err = s.ParseWebhook(notJSON, s.SignPayload(notJSON, time.Now()), StripePaymentSucceeded)
	assert.Equal(t, models.ErrInvalidQueryParameters, models.KindOf(err))

	unsigned := stripeEventBody("evt_3", StripePaymentSucceeded, map[string]interface{}{"id": "pi_1"})
	_, err = s.ParseWebhook(unsigned, "", StripePaymentSucceeded)
	assert.Equal(t, models.ErrInvalidStripeSignature, models.KindOf(err))

	unsupported := &StripeEvent{ID: "evt_4", Type: "charge.refunded"}
	_, err = s.Normalize(unsupported)
	assert.Equal(t, models.ErrInvalidQueryParameters, models.KindOf(err))
}

func TestStripeService_ConfirmStatus(t *testing.T) {
	fs := newFakeStripe(t)
	s := newTestStripe(t, fs.server.URL, nil)
	ctx := context.Background()

	fs.setStatus("pi_ok", "succeeded")
	fs.setStatus("pi_action", "requires_action")
	fs.setStatus("pi_canceled", "canceled")

	assert.NoError(t, s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_ok", Outcome: models.OutcomePaid}))
	assert.NoError(t, s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_canceled", Outcome: models.OutcomeCanceled}))
	assert.NoError(t, s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_missing", Outcome: models.OutcomeProcessing}),
		"processing claims are not confirmed remotely")

	err := s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_action", Outcome: models.OutcomePaid})
	assert.Equal(t, models.ErrPleaseDontPlayWithStripeWebhooks, models.KindOf(err))

	err = s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_ok", Outcome: models.OutcomeCanceled})
	assert.Equal(t, models.ErrPleaseDontPlayWithStripeWebhooks, models.KindOf(err))

	err = s.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_missing", Outcome: models.OutcomePaid})
	assert.Equal(t, models.ErrPleaseDontPlayWithStripeWebhooks, models.KindOf(err))

	broken := NewStripeService(StripeConfig{SecretKey: "sk_wrong", APIBase: fs.server.URL}, logger.Discard(), nil)
	err = broken.ConfirmStatus(ctx, &models.NormalizedPaymentEvent{TransactionID: "pi_ok", Outcome: models.OutcomePaid})
	require.Error(t, err)
	assert.Equal(t, models.ErrInternalServerError, models.KindOf(err))
}

func TestStripeService_RequiresActionLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t)
	fs := newFakeStripe(t)
	s := newTestStripe(t, fs.server.URL, nil)
	ctx := context.Background()

	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")
	require.NoError(t, f.ledger.AttachTransaction(ctx, cart.ID, "pi_action"))
	fs.setStatus("pi_action", "requires_action")

	body := stripeEventBody("evt_forged", StripePaymentSucceeded, map[string]interface{}{"id": "pi_action", "status": "succeeded"})
	event, err := s.ParseWebhook(body, s.SignPayload(body, time.Now()), StripePaymentSucceeded)
	require.NoError(t, err)

	err = s.ConfirmStatus(ctx, event)
	require.Error(t, err)
	assert.Equal(t, models.ErrPleaseDontPlayWithStripeWebhooks, models.KindOf(err))

	stored, _ := f.store.Cart(cart.ID)
	assert.Equal(t, models.TransactionProcessing, stored.State)
}

func TestStripeService_CreatePaymentIntent(t *testing.T) {
	fs := newFakeStripe(t)
	s := newTestStripe(t, fs.server.URL+"/", nil)

	cart := &models.Cart{
		ID:     "cart-1",
		UserID: "alice",
		Items:  []models.CartItem{{ItemID: "ticket-player", Quantity: 1, Price: 1500}},
	}

	intent, err := s.CreatePaymentIntent(context.Background(), cart)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, 1500, intent.Amount)
	assert.Equal(t, "pi_1_secret_abc", intent.ClientSecret)

	require.Len(t, fs.created, 1)
	assert.Equal(t, "cart-cart-1", fs.created[0].Get("Idempotency-Key"))
	assert.Equal(t, "1500", fs.forms[0]["amount"])
	assert.Equal(t, "eur", fs.forms[0]["currency"])
	assert.Equal(t, "cart-1", fs.forms[0]["metadata[cart_id]"])

	fs.failPost = true
	_, err = s.CreatePaymentIntent(context.Background(), cart)
	var apiErr *StripeAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}
