package services

import (
	"context"
	"time"

	"arena-registration/internal/models"
)

// Clock returns the current time; replaced by a fixed clock in tests
type Clock func() time.Time

// LedgerServiceInterface defines the cart and payment operations
type LedgerServiceInterface interface {
	CreateCart(ctx context.Context, cmd models.CreateCartCommand) (*models.Cart, error)
	Transition(ctx context.Context, cmd models.TransitionCartCommand) (*TransitionResult, error)
	AttachTransaction(ctx context.Context, cartID, transactionID string) error
	ForcePay(ctx context.Context, userID string) (*models.Cart, error)
	Refund(ctx context.Context, cartID string) (*TransitionResult, error)
	FetchCart(ctx context.Context, cartID string) (*models.Cart, error)
	FetchCartFromTransactionID(ctx context.Context, transactionID string) (*models.Cart, error)
	ExpireStaleCarts(ctx context.Context, olderThan time.Duration) (int, error)
}

// CapacityServiceInterface defines the admin and read operations of the capacity gate
type CapacityServiceInterface interface {
	LockTeam(ctx context.Context, teamID string) (*TeamView, error)
	UnlockTeam(ctx context.Context, teamID string) (*TeamView, error)
	DeleteTeam(ctx context.Context, teamID string) ([]string, error)
	FetchTeam(ctx context.Context, teamID string) (*TeamView, error)
	FetchTournament(ctx context.Context, tournamentID string) (*TournamentView, error)
}

// RosterServiceInterface defines team membership operations
type RosterServiceInterface interface {
	CreateTeam(ctx context.Context, cmd CreateTeamCommand) (*TeamView, error)
	JoinTeam(ctx context.Context, cmd JoinTeamCommand) (*TeamView, error)
	KickMember(ctx context.Context, teamID, actorID, userID string) (*TeamView, error)
	ReplaceMember(ctx context.Context, teamID, oldUserID, newUserID string) (*TeamView, error)
	PromoteCaptain(ctx context.Context, teamID, actorID, userID string) (*TeamView, error)
}

// SettlementServiceInterface applies normalized provider events to the ledger
type SettlementServiceInterface interface {
	Apply(ctx context.Context, event models.NormalizedPaymentEvent) (*TransitionResult, error)
	Resolve(ctx context.Context, event models.NormalizedPaymentEvent) (*models.Cart, error)
}

// CheckoutServiceInterface creates carts and initiates provider payments
type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

// Notifier is told about carts that reached paid. Calls are fire-and-forget.
type Notifier interface {
	NotifyPaymentOutcome(ctx context.Context, cart *models.Cart) error
}

// EventDeduper remembers provider event ids that were already applied
type EventDeduper interface {
	Seen(ctx context.Context, provider models.PaymentProvider, eventID string) (bool, error)
	Mark(ctx context.Context, provider models.PaymentProvider, eventID string) error
}
