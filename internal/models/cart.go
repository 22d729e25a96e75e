package models

import "time"

// TransactionState represents the payment state of a cart
type TransactionState string

const (
	TransactionPending    TransactionState = "pending"
	TransactionProcessing TransactionState = "processing"
	TransactionPaid       TransactionState = "paid"
	TransactionRefused    TransactionState = "refused"
	TransactionCanceled   TransactionState = "canceled"
	TransactionExpired    TransactionState = "expired"
	TransactionRefunded   TransactionState = "refunded"
)

// transactionGraph lists the legal edges of the cart state machine
var transactionGraph = map[TransactionState][]TransactionState{
	TransactionPending:    {TransactionProcessing},
	TransactionProcessing: {TransactionPaid, TransactionRefused, TransactionCanceled, TransactionExpired},
	TransactionPaid:       {TransactionRefunded},
}

// Valid reports whether s is a known state
func (s TransactionState) Valid() bool {
	switch s {
	case TransactionPending, TransactionProcessing, TransactionPaid, TransactionRefused,
		TransactionCanceled, TransactionExpired, TransactionRefunded:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether from -> to is an edge of the transaction graph
func (s TransactionState) CanTransitionTo(to TransactionState) bool {
	for _, next := range transactionGraph[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsErrored returns true for the failed terminal states
func (s TransactionState) IsErrored() bool {
	switch s {
	case TransactionRefused, TransactionCanceled, TransactionExpired, TransactionRefunded:
		return true
	default:
		return false
	}
}

// HoldsStock returns true if items of a cart in this state count against catalog stock
func (s TransactionState) HoldsStock() bool {
	return s == TransactionPending || s == TransactionProcessing || s == TransactionPaid
}

// Cart is one checkout attempt
type Cart struct {
	ID            string           `json:"id" db:"id"`
	UserID        string           `json:"userId" db:"user_id"`
	State         TransactionState `json:"transactionState" db:"transaction_state"`
	TransactionID *string          `json:"transactionId" db:"transaction_id"`
	PaidAt        *time.Time       `json:"paidAt" db:"paid_at"`
	Items         []CartItem       `json:"cartItems"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// CartItem is a snapshotted line of a cart
type CartItem struct {
	ID        string `json:"id" db:"id"`
	CartID    string `json:"cartId" db:"cart_id"`
	ItemID    string `json:"itemId" db:"item_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
	Price     int    `json:"price" db:"price"` // unit price in cents at creation time
	ForUserID string `json:"forUserId" db:"for_user_id"`
}

// Total returns the cart amount in cents
func (c *Cart) Total() int {
	total := 0
	for _, item := range c.Items {
		total += item.Price * item.Quantity
	}
	return total
}

// IsPaid returns true if the cart is settled
func (c *Cart) IsPaid() bool {
	return c.State == TransactionPaid
}

// Beneficiaries returns the distinct users the cart's items are for, in item order
func (c *Cart) Beneficiaries() []string {
	seen := make(map[string]bool, len(c.Items))
	var users []string
	for _, item := range c.Items {
		if item.ForUserID == "" || seen[item.ForUserID] {
			continue
		}
		seen[item.ForUserID] = true
		users = append(users, item.ForUserID)
	}
	return users
}

// Clone returns a deep copy of the cart
func (c Cart) Clone() Cart {
	clone := c
	clone.Items = append([]CartItem(nil), c.Items...)
	if c.TransactionID != nil {
		id := *c.TransactionID
		clone.TransactionID = &id
	}
	if c.PaidAt != nil {
		paidAt := *c.PaidAt
		clone.PaidAt = &paidAt
	}
	return clone
}

// ItemCategory groups catalog items
type ItemCategory string

const (
	ItemCategoryTicket     ItemCategory = "ticket"
	ItemCategorySupplement ItemCategory = "supplement"
)

// Item is a catalog entry that can be put in a cart
type Item struct {
	ID       string       `json:"id" db:"id"`
	Name     string       `json:"name" db:"name"`
	Category ItemCategory `json:"category" db:"category"`
	Price    int          `json:"price" db:"price"` // in cents
	Stock    *int         `json:"stock" db:"stock"` // nil means unlimited
}

// IsTicket returns true if buying the item grants admission
func (i *Item) IsTicket() bool {
	return i.Category == ItemCategoryTicket
}

// TicketItemID returns the canonical ticket item for a user type
func TicketItemID(userType UserType) string {
	return "ticket-" + string(userType)
}
