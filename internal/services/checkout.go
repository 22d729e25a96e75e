package services

import (
	"context"
	"log/slog"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"
)

// CheckoutRequest is a cart plus the provider chosen to pay it
type CheckoutRequest struct {
	PayerID  string                   `json:"-"`
	Items    []models.CartItemRequest `json:"items"`
	Provider models.PaymentProvider   `json:"provider"`
}

// CheckoutResult tells the client how to complete the payment
type CheckoutResult struct {
	Cart            *models.Cart           `json:"cart"`
	Provider        models.PaymentProvider `json:"provider"`
	RedirectURL     string                 `json:"redirectUrl,omitempty"`
	PaymentIntentID string                 `json:"paymentIntentId,omitempty"`
	ClientSecret    string                 `json:"clientSecret,omitempty"`
}

// CheckoutService creates a cart and starts its payment with a provider
type CheckoutService struct {
	store  repositories.Store
	ledger *Ledger
	etupay *EtupayService
	stripe *StripeService
	logger *slog.Logger
}

// NewCheckoutService creates a checkout service; a nil provider is disabled
func NewCheckoutService(store repositories.Store, ledger *Ledger, etupay *EtupayService, stripe *StripeService, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{store: store, ledger: ledger, etupay: etupay, stripe: stripe, logger: logger}
}

// Checkout creates a pending cart, moves it to processing and initiates the
// payment. If the provider cannot be reached the cart is canceled.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.Provider.Valid() {
		return nil, models.NewError(models.ErrInvalidBody, "unknown payment provider %q", req.Provider)
	}
	if (req.Provider == models.ProviderEtupay && s.etupay == nil) || (req.Provider == models.ProviderStripe && s.stripe == nil) {
		return nil, models.NewError(models.ErrInvalidBody, "payment provider %s is not enabled", req.Provider)
	}

	cart, err := s.ledger.CreateCart(ctx, models.CreateCartCommand{PayerID: req.PayerID, Items: req.Items})
	if err != nil {
		return nil, err
	}

	started, err := s.ledger.Transition(ctx, models.TransitionCartCommand{CartID: cart.ID, State: models.TransactionProcessing})
	if err != nil {
		return nil, err
	}
	cart = started.Cart

	result := &CheckoutResult{Cart: cart, Provider: req.Provider}
	switch req.Provider {
	case models.ProviderEtupay:
		result.RedirectURL, err = s.etupayURL(ctx, cart)
	case models.ProviderStripe:
		var intent *PaymentIntent
		intent, err = s.stripe.CreatePaymentIntent(ctx, cart)
		if err == nil {
			err = s.ledger.AttachTransaction(ctx, cart.ID, intent.ID)
			transactionID := intent.ID
			cart.TransactionID = &transactionID
			result.PaymentIntentID = intent.ID
			result.ClientSecret = intent.ClientSecret
		}
	}
	if err != nil {
		s.abort(ctx, cart, err)
		return nil, models.WrapError(models.ErrInternalServerError, err, "failed to initiate payment")
	}

	s.logger.Info("checkout started", "cart_id", cart.ID, "provider", req.Provider, "total", cart.Total())
	return result, nil
}

func (s *CheckoutService) etupayURL(ctx context.Context, cart *models.Cart) (string, error) {
	var payer *models.User
	names := make(map[string]string, len(cart.Items))
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		payer, err = tx.GetUser(ctx, cart.UserID)
		if err != nil {
			return err
		}
		for _, line := range cart.Items {
			item, err := tx.GetItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if item != nil {
				names[item.ID] = item.Name
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return s.etupay.PaymentURL(cart, payer, names)
}

func (s *CheckoutService) abort(ctx context.Context, cart *models.Cart, cause error) {
	s.logger.Error("payment initiation failed", "cart_id", cart.ID, "error", cause)
	if _, err := s.ledger.Transition(ctx, models.TransitionCartCommand{CartID: cart.ID, State: models.TransactionCanceled}); err != nil {
		s.logger.Error("failed to cancel cart after initiation failure", "cart_id", cart.ID, "error", err)
	}
}
