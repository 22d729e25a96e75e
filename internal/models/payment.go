package models

// PaymentProvider names an integrated payment provider
type PaymentProvider string

const (
	ProviderEtupay PaymentProvider = "etupay"
	ProviderStripe PaymentProvider = "stripe"
)

// Valid reports whether p is an integrated provider
func (p PaymentProvider) Valid() bool {
	return p == ProviderEtupay || p == ProviderStripe
}

// PaymentOutcome is the provider-independent meaning of a payment event
type PaymentOutcome string

const (
	OutcomeProcessing PaymentOutcome = "processing"
	OutcomePaid       PaymentOutcome = "paid"
	OutcomeRefused    PaymentOutcome = "refused"
	OutcomeCanceled   PaymentOutcome = "canceled"
)

// TargetState maps an outcome to the ledger state it requests
func (o PaymentOutcome) TargetState() (TransactionState, bool) {
	switch o {
	case OutcomeProcessing:
		return TransactionProcessing, true
	case OutcomePaid:
		return TransactionPaid, true
	case OutcomeRefused:
		return TransactionRefused, true
	case OutcomeCanceled:
		return TransactionCanceled, true
	default:
		return "", false
	}
}

// NormalizedPaymentEvent is what both webhook adapters produce for the ledger.
// Exactly one of CartID or TransactionID identifies the cart; when both are set,
// CartID wins and TransactionID is recorded on the cart.
type NormalizedPaymentEvent struct {
	Provider      PaymentProvider
	EventID       string
	CartID        string
	TransactionID string
	Outcome       PaymentOutcome
}

// TransitionCartCommand requests a ledger state change. The cart is found by
// CartID, or by TransactionID when CartID is empty.
type TransitionCartCommand struct {
	CartID        string
	State         TransactionState
	TransactionID string
}

// Validate checks the command before it reaches the ledger
func (c TransitionCartCommand) Validate() error {
	if c.CartID == "" && c.TransactionID == "" {
		return NewError(ErrInvalidBody, "cart id or transaction id is required")
	}
	if !c.State.Valid() {
		return NewError(ErrInvalidBody, "unknown transaction state %q", c.State)
	}
	return nil
}

// CartItemRequest is one requested line of a new cart
type CartItemRequest struct {
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
	ForUserID string `json:"forUserId"`
}

// CreateCartCommand requests a new pending cart
type CreateCartCommand struct {
	PayerID string
	Items   []CartItemRequest
}

// Validate checks the command shape
func (c CreateCartCommand) Validate() error {
	if c.PayerID == "" {
		return NewError(ErrInvalidBody, "payer id is required")
	}
	if len(c.Items) == 0 {
		return NewError(ErrEmptyBasket, "cart has no items")
	}
	for i, item := range c.Items {
		if item.ItemID == "" {
			return NewError(ErrInvalidBody, "item %d: item id is required", i)
		}
		if item.Quantity <= 0 {
			return NewError(ErrEmptyBasket, "item %d: quantity must be positive, got %d", i, item.Quantity)
		}
	}
	return nil
}

// LockTeamCommand requests an administrative lock or unlock
type LockTeamCommand struct {
	TeamID string
	Lock   bool
}

// Validate checks the command shape
func (c LockTeamCommand) Validate() error {
	if c.TeamID == "" {
		return NewError(ErrInvalidBody, "team id is required")
	}
	return nil
}
