package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"arena-registration/internal/logger"
	"arena-registration/internal/middleware"
	"arena-registration/internal/models"
	"arena-registration/internal/repositories"
	"arena-registration/internal/services"

	"github.com/stretchr/testify/require"
)

const (
	testAdminToken    = "admin-s3cret"
	testWebhookSecret = "whsec_test"
)

var testEtupayKey = bytes.Repeat([]byte{7}, 32)

// stripeAPI fakes the two PaymentIntent endpoints the service calls
type stripeAPI struct {
	mu      sync.Mutex
	next    int
	lookups int
	intents map[string]string
	server  *httptest.Server
}

func newStripeAPI(t *testing.T) *stripeAPI {
	t.Helper()
	api := &stripeAPI{intents: make(map[string]string)}
	api.server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.server.Close)
	return api
}

func (a *stripeAPI) setStatus(id, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.intents[id] = status
}

func (a *stripeAPI) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.intents, id)
}

func (a *stripeAPI) lookupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookups
}

func (a *stripeAPI) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
		a.next++
		id := fmt.Sprintf("pi_%d", a.next)
		a.intents[id] = "requires_payment_method"
		fmt.Fprintf(w, `{"id":%q,"status":"requires_payment_method","client_secret":"%s_secret"}`, id, id)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payment_intents/"):
		a.lookups++
		id := strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/")
		status, ok := a.intents[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"status":%q}`, id, status)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	store     *repositories.MemoryStore
	etupay    *services.EtupayService
	stripe    *services.StripeService
	stripeAPI *stripeAPI
	stripeNow time.Time
	handler   http.Handler
}

type serverOption func(*RouterConfig)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	log := logger.Discard()
	store := repositories.NewMemoryStore()

	var mu sync.Mutex
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}

	etupay, err := services.NewEtupayService(services.EtupayConfig{
		Key:          testEtupayKey,
		ServiceID:    12,
		Endpoint:     "https://etupay.test/initiate",
		AllowedCIDRs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
		SuccessURL:   "https://arena.test/payment/success",
		ErrorURL:     "https://arena.test/payment/error",
	})
	require.NoError(t, err)

	api := newStripeAPI(t)
	stripeNow := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	stripe := services.NewStripeService(services.StripeConfig{
		SecretKey:     "sk_test",
		WebhookSecret: testWebhookSecret,
		APIBase:       api.server.URL,
	}, log, func() time.Time { return stripeNow })

	gate := services.NewCapacityGate(store, services.NewPromotionScheduler(log, now), log, now)
	ledger := services.NewLedger(store, gate, services.NewLogNotifier(log), log, now)
	roster := services.NewRosterService(store, gate, log, now)
	settlement := services.NewSettlementService(ledger, nil, log)
	checkout := services.NewCheckoutService(store, ledger, etupay, stripe, log)

	cfg := RouterConfig{
		Payments:       NewPaymentHandler(settlement, etupay, stripe, log),
		Carts:          NewCartHandler(checkout, ledger, log),
		Teams:          NewTeamHandler(roster, gate, log),
		Admin:          NewAdminHandler(ledger, gate, roster, log, time.Hour),
		Health:         NewHealthHandler(nil, log),
		Logger:         log,
		AdminToken:     testAdminToken,
		AllowedOrigins: []string{"https://arena.test"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ts := &testServer{
		store:     store,
		etupay:    etupay,
		stripe:    stripe,
		stripeAPI: api,
		stripeNow: stripeNow,
		handler:   NewRouter(cfg),
	}
	ts.seed()
	return ts
}

func intPtr(v int) *int { return &v }

func (ts *testServer) seed() {
	ts.store.SeedItem(models.Item{ID: "ticket-player", Name: "Player ticket", Category: models.ItemCategoryTicket, Price: 1500})
	ts.store.SeedItem(models.Item{ID: "ticket-coach", Name: "Coach ticket", Category: models.ItemCategoryTicket, Price: 1200})
	ts.store.SeedItem(models.Item{ID: "ethernet-7", Name: "Ethernet cable 7m", Category: models.ItemCategorySupplement, Price: 800, Stock: intPtr(2)})
	ts.store.SeedTournament(models.Tournament{ID: "lol", Name: "League of Legends", MaxPlayers: 4, PlayersPerTeam: 2, CoachesPerTeam: 1})
}

func (ts *testServer) user(id string, userType models.UserType) {
	user := models.User{ID: id, Username: id, Email: id + "@arena.test"}
	if userType != "" {
		user.Type = &userType
	}
	ts.store.SeedUser(user)
}

type request struct {
	method string
	path   string
	body   interface{}
	user   string
	admin  bool
	remote string
	header map[string]string
}

func (ts *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	switch b := req.body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	case string:
		body = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	r := httptest.NewRequest(req.method, req.path, body)
	if req.user != "" {
		r.Header.Set(middleware.UserIDHeader, req.user)
	}
	if req.admin {
		r.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	if req.remote != "" {
		r.RemoteAddr = req.remote
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, r)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func errorKind(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorKind {
	t.Helper()
	return decode[middleware.ErrorBody](t, rr).Error
}

// processingCart checks out a ticket for userID with etupay and returns the cart id
func (ts *testServer) processingCart(t *testing.T, userID string) string {
	t.Helper()
	rr := ts.do(t, request{
		method: "POST",
		path:   "/carts",
		user:   userID,
		body: services.CheckoutRequest{
			Items:    []models.CartItemRequest{{ItemID: "ticket-player", Quantity: 1}},
			Provider: models.ProviderEtupay,
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[services.CheckoutResult](t, rr).Cart.ID
}

func (ts *testServer) etupayPayload(t *testing.T, cartID, step string) string {
	t.Helper()
	payload, err := ts.etupay.Encrypt(map[string]interface{}{
		"transaction_id": 9001,
		"step":           step,
		"service_data":   cartID,
		"amount":         1500,
		"type":           "payment",
	})
	require.NoError(t, err)
	return payload
}

func (ts *testServer) cartState(t *testing.T, cartID string) models.TransactionState {
	t.Helper()
	cart, ok := ts.store.Cart(cartID)
	require.True(t, ok)
	return cart.State
}
