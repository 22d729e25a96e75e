package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/utils"
)

// Stripe event types handled by the webhook endpoints
const (
	StripeCheckoutCompleted = "checkout.session.completed"
	StripePaymentProcessing = "payment_intent.processing"
	StripePaymentSucceeded  = "payment_intent.succeeded"
	StripePaymentCanceled   = "payment_intent.canceled"
)

const stripeDefaultSignatureAge = 5 * time.Minute

// StripeConfig represents Stripe payment service configuration
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	APIBase         string
	Currency        string
	SignatureMaxAge time.Duration
}

// StripeService verifies Stripe webhooks and talks to the Stripe API
type StripeService struct {
	config StripeConfig
	client *http.Client
	logger *slog.Logger
	now    Clock
}

// NewStripeService creates a new Stripe payment service
func NewStripeService(config StripeConfig, logger *slog.Logger, now Clock) *StripeService {
	if config.APIBase == "" {
		config.APIBase = "https://api.stripe.com"
	}
	config.APIBase = strings.TrimRight(config.APIBase, "/")
	if config.Currency == "" {
		config.Currency = "eur"
	}
	if config.SignatureMaxAge <= 0 {
		config.SignatureMaxAge = stripeDefaultSignatureAge
	}
	if now == nil {
		now = time.Now
	}

	return &StripeService{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
		now:    now,
	}
}

// StripeEvent is the envelope of a webhook event. Unknown fields are ignored.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object StripeEventObject `json:"object"`
	} `json:"data"`
}

// StripeEventObject holds the fields read from a PaymentIntent or Checkout Session
type StripeEventObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	PaymentIntent string            `json:"payment_intent"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

// PaymentIntent is the subset of the Stripe PaymentIntent resource we use
type PaymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int               `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// StripeAPIError represents an error response from Stripe
type StripeAPIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *StripeAPIError) Error() string {
	return fmt.Sprintf("stripe error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// VerifySignature checks the Stripe-Signature header against the raw body
func (s *StripeService) VerifySignature(payload []byte, header string) error {
	if header == "" {
		return models.NewError(models.ErrInvalidStripeSignature, "missing signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || len(signatures) == 0 {
		return models.NewError(models.ErrInvalidStripeSignature, "malformed signature header")
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.config.SignatureMaxAge || age < -s.config.SignatureMaxAge {
		return models.NewError(models.ErrInvalidStripeSignature, "signature timestamp outside tolerance (%s)", age)
	}

	signed := append([]byte(timestamp+"."), payload...)
	for _, signature := range signatures {
		if utils.VerifyHMACSHA256([]byte(s.config.WebhookSecret), signed, signature) {
			return nil
		}
	}
	return models.NewError(models.ErrInvalidStripeSignature, "no matching v1 signature")
}

// SignPayload builds a Stripe-Signature header for payload, used by tooling and tests
func (s *StripeService) SignPayload(payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	signature := utils.SignHMACSHA256([]byte(s.config.WebhookSecret), append([]byte(timestamp+"."), payload...))
	return "t=" + timestamp + ",v1=" + signature
}

// ParseWebhook verifies and decodes a webhook delivered to the endpoint of
// expectedType, and normalizes it
func (s *StripeService) ParseWebhook(payload []byte, signatureHeader, expectedType string) (*models.NormalizedPaymentEvent, error) {
	if err := s.VerifySignature(payload, signatureHeader); err != nil {
		return nil, err
	}

	var event StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, models.WrapError(models.ErrInvalidQueryParameters, err, "invalid event body")
	}
	if event.Type != expectedType {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "event type %q sent to the %q endpoint", event.Type, expectedType)
	}

	return s.Normalize(&event)
}

// Normalize maps a Stripe event to a provider independent event
func (s *StripeService) Normalize(event *StripeEvent) (*models.NormalizedPaymentEvent, error) {
	object := event.Data.Object
	normalized := &models.NormalizedPaymentEvent{
		Provider: models.ProviderStripe,
		EventID:  event.ID,
	}

	switch event.Type {
	case StripeCheckoutCompleted:
		normalized.Outcome = models.OutcomeProcessing
		normalized.TransactionID = object.PaymentIntent
		normalized.CartID = object.Metadata["cart_id"]
	case StripePaymentProcessing:
		normalized.Outcome = models.OutcomeProcessing
		normalized.TransactionID = object.ID
	case StripePaymentSucceeded:
		normalized.Outcome = models.OutcomePaid
		normalized.TransactionID = object.ID
	case StripePaymentCanceled:
		normalized.Outcome = models.OutcomeCanceled
		normalized.TransactionID = object.ID
	default:
		return nil, models.NewError(models.ErrInvalidQueryParameters, "unsupported event type %q", event.Type)
	}

	if normalized.TransactionID == "" {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "event %s carries no payment intent", event.ID)
	}
	return normalized, nil
}

// ConfirmStatus re-queries Stripe before trusting a succeeded or canceled
// claim. A claim that does not match the remote PaymentIntent is rejected.
func (s *StripeService) ConfirmStatus(ctx context.Context, event *models.NormalizedPaymentEvent) error {
	var expected string
	switch event.Outcome {
	case models.OutcomePaid:
		expected = "succeeded"
	case models.OutcomeCanceled:
		expected = "canceled"
	default:
		return nil
	}

	intent, err := s.GetPaymentIntent(ctx, event.TransactionID)
	if err != nil {
		var apiErr *StripeAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return models.WrapError(models.ErrPleaseDontPlayWithStripeWebhooks, err, "payment intent does not exist")
		}
		return fmt.Errorf("failed to confirm payment intent %s: %w", event.TransactionID, err)
	}

	if intent.Status != expected {
		return models.NewError(models.ErrPleaseDontPlayWithStripeWebhooks,
			"event claims %s but payment intent %s is %s", expected, intent.ID, intent.Status)
	}
	return nil
}

// GetPaymentIntent fetches a PaymentIntent from the Stripe API
func (s *StripeService) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBase+"/v1/payment_intents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent request: %w", err)
	}

	var intent PaymentIntent
	if err := s.do(req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreatePaymentIntent opens a PaymentIntent for a cart. The cart id is the
// idempotency key, so retries never create a second intent.
func (s *StripeService) CreatePaymentIntent(ctx context.Context, cart *models.Cart) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(cart.Total()))
	form.Set("currency", s.config.Currency)
	form.Set("metadata[cart_id]", cart.ID)
	form.Set("metadata[user_id]", cart.UserID)
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBase+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", "cart-"+cart.ID)

	var intent PaymentIntent
	if err := s.do(req, &intent); err != nil {
		return nil, err
	}

	s.logger.Info("stripe payment intent created", "cart_id", cart.ID, "payment_intent", intent.ID, "amount", intent.Amount)
	return &intent, nil
}

func (s *StripeService) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to stripe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return s.handleAPIError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}

// handleAPIError decodes a Stripe error body
func (s *StripeService) handleAPIError(statusCode int, body []byte) error {
	var envelope struct {
		Error StripeAPIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &StripeAPIError{StatusCode: statusCode, Message: string(body)}
	}
	envelope.Error.StatusCode = statusCode
	return &envelope.Error
}
