package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"

	"github.com/google/uuid"
)

const notifyTimeout = 10 * time.Second

// TransitionResult describes the outcome of a ledger transition
type TransitionResult struct {
	Cart     *models.Cart            `json:"cart,omitempty"`
	Previous models.TransactionState `json:"previous,omitempty"`
	Changed  bool                    `json:"changed"`
	// Duplicate is set when the provider event was already applied
	Duplicate bool         `json:"duplicate,omitempty"`
	Teams     []TeamChange `json:"teams,omitempty"`
}

// Ledger owns carts and the transaction state machine
type Ledger struct {
	store    repositories.Store
	gate     *CapacityGate
	notifier Notifier
	logger   *slog.Logger
	now      Clock
	newID    func() string
}

// NewLedger creates a ledger
func NewLedger(store repositories.Store, gate *CapacityGate, notifier Notifier, logger *slog.Logger, now Clock) *Ledger {
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Ledger{
		store:    store,
		gate:     gate,
		notifier: notifier,
		logger:   logger,
		now:      now,
		newID:    uuid.NewString,
	}
}

// CreateCart creates a pending cart with snapshotted prices
func (l *Ledger) CreateCart(ctx context.Context, cmd models.CreateCartCommand) (*models.Cart, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var cart *models.Cart
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		payer, err := tx.GetUser(ctx, cmd.PayerID)
		if err != nil {
			return err
		}
		if payer == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", cmd.PayerID)
		}

		now := l.now()
		cart = &models.Cart{
			ID:        l.newID(),
			UserID:    payer.ID,
			State:     models.TransactionPending,
			CreatedAt: now,
			UpdatedAt: now,
		}

		requested := make(map[string]int)
		items := make(map[string]*models.Item)
		ticketFor := make(map[string]bool)

		for _, line := range cmd.Items {
			item, ok := items[line.ItemID]
			if !ok {
				item, err = tx.GetItem(ctx, line.ItemID)
				if err != nil {
					return err
				}
				if item == nil {
					return models.NewError(models.ErrItemNotFound, "item %s not found", line.ItemID)
				}
				items[line.ItemID] = item
			}

			beneficiaryID := line.ForUserID
			if beneficiaryID == "" {
				beneficiaryID = payer.ID
			}
			if beneficiaryID != payer.ID {
				beneficiary, err := tx.GetUser(ctx, beneficiaryID)
				if err != nil {
					return err
				}
				if beneficiary == nil {
					return models.NewError(models.ErrUserNotFound, "user %s not found", beneficiaryID)
				}
			}

			if item.IsTicket() {
				if line.Quantity != 1 || ticketFor[beneficiaryID] {
					return models.NewError(models.ErrInvalidBody, "cart holds more than one ticket for user %s", beneficiaryID)
				}
				paid, err := tx.HasPaidTicket(ctx, beneficiaryID)
				if err != nil {
					return err
				}
				if paid {
					return models.NewError(models.ErrAlreadyPaid, "user %s already has a paid ticket", beneficiaryID)
				}
				ticketFor[beneficiaryID] = true
			}

			requested[item.ID] += line.Quantity
			cart.Items = append(cart.Items, models.CartItem{
				ID:        l.newID(),
				CartID:    cart.ID,
				ItemID:    item.ID,
				Quantity:  line.Quantity,
				Price:     item.Price,
				ForUserID: beneficiaryID,
			})
		}

		// Limited items are locked in id order so concurrent carts count
		// each other's holds
		limited := make([]string, 0, len(requested))
		for itemID := range requested {
			if items[itemID].Stock != nil {
				limited = append(limited, itemID)
			}
		}
		sort.Strings(limited)

		for _, itemID := range limited {
			item, err := tx.LockItem(ctx, itemID)
			if err != nil {
				return err
			}
			if item == nil {
				return models.NewError(models.ErrItemNotFound, "item %s not found", itemID)
			}
			if item.Stock == nil {
				continue
			}
			held, err := tx.CountItemHeld(ctx, itemID)
			if err != nil {
				return err
			}
			quantity := requested[itemID]
			if held+quantity > *item.Stock {
				return models.NewError(models.ErrItemOutOfStock, "item %s: %d left, %d requested", itemID, *item.Stock-held, quantity)
			}
		}

		return tx.InsertCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("cart created", "cart_id", cart.ID, "user_id", cart.UserID, "total", cart.Total())
	return cart, nil
}

// Transition moves a cart along the transaction graph. A cart already in the
// requested state is left untouched and reported with Changed false.
func (l *Ledger) Transition(ctx context.Context, cmd models.TransitionCartCommand) (*TransitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *TransitionResult
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		cart, err := l.lockCart(ctx, tx, cmd)
		if err != nil {
			return err
		}
		result, err = l.transition(ctx, tx, cart, cmd.State, cmd.TransactionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.afterTransition(ctx, result)
	return result, nil
}

func (l *Ledger) lockCart(ctx context.Context, tx repositories.Tx, cmd models.TransitionCartCommand) (*models.Cart, error) {
	var (
		cart *models.Cart
		err  error
	)
	if cmd.CartID != "" {
		cart, err = tx.GetCartForUpdate(ctx, cmd.CartID)
	} else {
		cart, err = tx.GetCartByTransactionID(ctx, cmd.TransactionID)
	}
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, models.NewError(models.ErrCartNotFound, "no cart for id %q transaction %q", cmd.CartID, cmd.TransactionID)
	}
	return cart, nil
}

// transition applies one edge inside tx. The cart must have been read with a row lock.
func (l *Ledger) transition(ctx context.Context, tx repositories.Tx, cart *models.Cart, to models.TransactionState, transactionID string) (*TransitionResult, error) {
	result := &TransitionResult{Cart: cart, Previous: cart.State}

	if cart.State == to {
		return result, nil
	}
	if !cart.State.CanTransitionTo(to) {
		return nil, illegalTransition(cart, to)
	}

	now := l.now()
	cart.State = to
	cart.UpdatedAt = now
	if transactionID != "" {
		cart.TransactionID = &transactionID
	}
	if to == models.TransactionPaid {
		cart.PaidAt = &now
	}
	if err := tx.UpdateCartState(ctx, cart); err != nil {
		return nil, err
	}
	result.Changed = true

	if to == models.TransactionPaid || result.Previous == models.TransactionPaid {
		teams, err := l.beneficiaryTeams(ctx, tx, cart)
		if err != nil {
			return nil, err
		}
		changes, err := l.gate.ReconcileTeams(ctx, tx, teams)
		if err != nil {
			return nil, err
		}
		result.Teams = changes
	}

	return result, nil
}

func illegalTransition(cart *models.Cart, to models.TransactionState) error {
	switch {
	case cart.State == models.TransactionPaid:
		return models.NewError(models.ErrAlreadyPaid, "cart %s is paid, cannot move to %s", cart.ID, to)
	case cart.State.IsErrored():
		return models.NewError(models.ErrAlreadyErrored, "cart %s is %s, cannot move to %s", cart.ID, cart.State, to)
	default:
		return models.NewError(models.ErrInvalidTransition, "cart %s cannot move from %s to %s", cart.ID, cart.State, to)
	}
}

func (l *Ledger) beneficiaryTeams(ctx context.Context, tx repositories.Tx, cart *models.Cart) ([]string, error) {
	var teams []string
	for _, userID := range cart.Beneficiaries() {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user != nil && user.TeamID != nil {
			teams = append(teams, *user.TeamID)
		}
	}
	return teams, nil
}

func (l *Ledger) afterTransition(ctx context.Context, result *TransitionResult) {
	if !result.Changed {
		return
	}

	l.logger.Info("cart transitioned",
		"cart_id", result.Cart.ID,
		"from", result.Previous,
		"to", result.Cart.State,
		"teams", len(result.Teams),
	)

	if result.Cart.State == models.TransactionPaid {
		l.notify(ctx, result.Cart)
	}
}

// notify runs the notifier in the background; failures are only logged
func (l *Ledger) notify(ctx context.Context, cart *models.Cart) {
	snapshot := cart.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := l.notifier.NotifyPaymentOutcome(ctx, &snapshot); err != nil {
			l.logger.Warn("payment notification failed", "cart_id", snapshot.ID, "error", err)
		}
	}()
}

// AttachTransaction records the provider transaction id of a processing cart
func (l *Ledger) AttachTransaction(ctx context.Context, cartID, transactionID string) error {
	if cartID == "" || transactionID == "" {
		return models.NewError(models.ErrInvalidBody, "cart id and transaction id are required")
	}

	return l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		cart, err := tx.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if cart == nil {
			return models.NewError(models.ErrCartNotFound, "cart %s not found", cartID)
		}
		if cart.TransactionID != nil {
			if *cart.TransactionID == transactionID {
				return nil
			}
			return models.NewError(models.ErrInvalidTransition, "cart %s already bound to transaction %s", cartID, *cart.TransactionID)
		}
		if cart.State != models.TransactionProcessing {
			return models.NewError(models.ErrInvalidTransition, "cart %s is %s, expected processing", cartID, cart.State)
		}

		cart.TransactionID = &transactionID
		cart.UpdatedAt = l.now()
		return tx.UpdateCartState(ctx, cart)
	})
}

// ForcePay synthesizes a paid cart holding the ticket of the user's type
func (l *Ledger) ForcePay(ctx context.Context, userID string) (*models.Cart, error) {
	var result *TransitionResult
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", userID)
		}
		if !user.HasType() {
			return models.NewError(models.ErrUserHasNoType, "user %s has no type", userID)
		}

		itemID := models.TicketItemID(*user.Type)
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return models.NewError(models.ErrItemNotFound, "item %s not found", itemID)
		}

		paid, err := tx.HasPaidTicket(ctx, user.ID)
		if err != nil {
			return err
		}
		if paid {
			return models.NewError(models.ErrAlreadyPaid, "user %s already has a paid ticket", user.ID)
		}

		now := l.now()
		cart := &models.Cart{
			ID:        l.newID(),
			UserID:    user.ID,
			State:     models.TransactionPaid,
			PaidAt:    &now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		// no money moved, so the snapshot price is zero
		cart.Items = []models.CartItem{{
			ID:        l.newID(),
			CartID:    cart.ID,
			ItemID:    item.ID,
			Quantity:  1,
			Price:     0,
			ForUserID: user.ID,
		}}
		if err := tx.InsertCart(ctx, cart); err != nil {
			return err
		}

		result = &TransitionResult{Cart: cart, Previous: models.TransactionPending, Changed: true}
		if user.TeamID != nil {
			changes, err := l.gate.ReconcileTeams(ctx, tx, []string{*user.TeamID})
			if err != nil {
				return err
			}
			result.Teams = changes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("user force paid", "user_id", userID, "cart_id", result.Cart.ID)
	l.afterTransition(ctx, result)
	return result.Cart, nil
}

// Refund moves a paid cart to refunded and releases the teams it was holding up
func (l *Ledger) Refund(ctx context.Context, cartID string) (*TransitionResult, error) {
	return l.Transition(ctx, models.TransitionCartCommand{CartID: cartID, State: models.TransactionRefunded})
}

// FetchCart returns a cart by id
func (l *Ledger) FetchCart(ctx context.Context, cartID string) (*models.Cart, error) {
	var cart *models.Cart
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		cart, err = tx.GetCart(ctx, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, models.NewError(models.ErrCartNotFound, "cart %s not found", cartID)
	}
	return cart, nil
}

// FetchCartFromTransactionID correlates a provider transaction with its cart
func (l *Ledger) FetchCartFromTransactionID(ctx context.Context, transactionID string) (*models.Cart, error) {
	var cart *models.Cart
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		cart, err = tx.GetCartByTransactionID(ctx, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, models.NewError(models.ErrCartNotFound, "no cart for transaction %s", transactionID)
	}
	return cart, nil
}

// ExpireStaleCarts moves processing carts older than olderThan to expired.
// Each cart is expired in its own transaction; carts settled meanwhile are skipped.
func (l *Ledger) ExpireStaleCarts(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().Add(-olderThan)

	var stale []models.Cart
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		stale, err = tx.ListCartsByState(ctx, models.TransactionProcessing, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale carts: %w", err)
	}

	expired := 0
	for _, cart := range stale {
		result, err := l.Transition(ctx, models.TransitionCartCommand{CartID: cart.ID, State: models.TransactionExpired})
		if err != nil {
			if models.IsKind(err, models.ErrAlreadyPaid) || models.IsKind(err, models.ErrAlreadyErrored) {
				continue
			}
			return expired, err
		}
		if result.Changed {
			expired++
		}
	}

	l.logger.Info("stale carts expired", "count", expired, "cutoff", cutoff)
	return expired, nil
}
