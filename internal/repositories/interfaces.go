package repositories

import (
	"context"
	"time"

	"arena-registration/internal/models"
)

// Store runs units of work against the database of record
type Store interface {
	// WithTx runs fn in one atomic transaction. Any error returned by fn rolls
	// the whole unit back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work.
// Missing rows are reported as a nil value and a nil error.
type Tx interface {
	ItemRepository
	UserRepository
	CartRepository
	TeamRepository
	TournamentRepository
}

// ItemRepository reads the catalog
type ItemRepository interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	// LockItem reads the item and serializes every other unit of work that
	// locks it until this one ends
	LockItem(ctx context.Context, id string) (*models.Item, error)
	// CountItemHeld sums quantities of itemID in carts that hold stock
	CountItemHeld(ctx context.Context, itemID string) (int, error)
}

// UserRepository handles the payment/team facts of users
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	// LockUser reads the user and holds its row until the unit of work ends
	LockUser(ctx context.Context, id string) (*models.User, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]models.User, error)
	SetUserTeam(ctx context.Context, userID string, teamID *string, userType *models.UserType) error
	// HasPaidTicket reports whether a paid cart holds a ticket for userID
	HasPaidTicket(ctx context.Context, userID string) (bool, error)
}

// CartRepository handles carts and their items
type CartRepository interface {
	InsertCart(ctx context.Context, cart *models.Cart) error
	GetCart(ctx context.Context, id string) (*models.Cart, error)
	// GetCartForUpdate reads the cart and holds its row until the unit of work ends
	GetCartForUpdate(ctx context.Context, id string) (*models.Cart, error)
	GetCartByTransactionID(ctx context.Context, transactionID string) (*models.Cart, error)
	UpdateCartState(ctx context.Context, cart *models.Cart) error
	ListCartsByState(ctx context.Context, state models.TransactionState, createdBefore time.Time) ([]models.Cart, error)
}

// TeamRepository handles teams
type TeamRepository interface {
	InsertTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	UpdateTeam(ctx context.Context, team *models.Team) error
	DeleteTeam(ctx context.Context, id string) error
	ListTeams(ctx context.Context, tournamentID string) ([]models.Team, error)
	// ListQueuedTeams returns queued teams in FIFO order
	ListQueuedTeams(ctx context.Context, tournamentID string) ([]models.Team, error)
	CountLockedTeams(ctx context.Context, tournamentID string) (int, error)
}

// TournamentRepository handles tournaments
type TournamentRepository interface {
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	// LockTournament reads the tournament and serializes every other unit of
	// work that locks it until this one ends
	LockTournament(ctx context.Context, id string) (*models.Tournament, error)
}
