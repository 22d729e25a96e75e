package services

import (
	"context"
	"log/slog"

	"arena-registration/internal/models"
)

// SettlementService applies provider events to the ledger. Both webhook
// adapters go through it so they have identical effects.
type SettlementService struct {
	ledger  *Ledger
	deduper EventDeduper
	logger  *slog.Logger
}

// NewSettlementService creates a settlement service; deduper may be nil
func NewSettlementService(ledger *Ledger, deduper EventDeduper, logger *slog.Logger) *SettlementService {
	return &SettlementService{ledger: ledger, deduper: deduper, logger: logger}
}

// Apply transitions the cart an event refers to.
//
// A cart already in the requested state is a successful no-op. A late
// "processing" event for a cart that already settled is also a no-op, since
// providers do not guarantee delivery order. Any other illegal edge is
// returned as AlreadyPaid or AlreadyErrored.
func (s *SettlementService) Apply(ctx context.Context, event models.NormalizedPaymentEvent) (*TransitionResult, error) {
	target, ok := event.Outcome.TargetState()
	if !ok {
		return nil, models.NewError(models.ErrInvalidQueryParameters, "unknown payment outcome %q", event.Outcome)
	}

	log := s.logger.With(
		"provider", event.Provider,
		"event_id", event.EventID,
		"cart_id", event.CartID,
		"transaction_id", event.TransactionID,
		"outcome", event.Outcome,
	)

	if s.deduper != nil && event.EventID != "" {
		seen, err := s.deduper.Seen(ctx, event.Provider, event.EventID)
		if err != nil {
			log.Warn("event deduplication unavailable", "error", err)
		} else if seen {
			log.Info("payment event already applied")
			return &TransitionResult{Duplicate: true}, nil
		}
	}

	result, err := s.ledger.Transition(ctx, models.TransitionCartCommand{
		CartID:        event.CartID,
		State:         target,
		TransactionID: event.TransactionID,
	})
	if err != nil {
		if target == models.TransactionProcessing &&
			(models.IsKind(err, models.ErrAlreadyPaid) || models.IsKind(err, models.ErrAlreadyErrored)) {
			log.Info("late processing event ignored", "reason", models.KindOf(err))
			s.mark(ctx, event, log)
			return &TransitionResult{}, nil
		}
		return nil, err
	}

	if result.Changed {
		log.Info("payment event applied", "from", result.Previous, "to", result.Cart.State)
	} else {
		log.Info("payment event replayed, cart already in target state", "state", result.Cart.State)
	}

	s.mark(ctx, event, log)
	return result, nil
}

// Resolve finds the cart an event refers to, by cart id when the provider
// sent one and by transaction id otherwise
func (s *SettlementService) Resolve(ctx context.Context, event models.NormalizedPaymentEvent) (*models.Cart, error) {
	if event.CartID != "" {
		return s.ledger.FetchCart(ctx, event.CartID)
	}
	return s.ledger.FetchCartFromTransactionID(ctx, event.TransactionID)
}

func (s *SettlementService) mark(ctx context.Context, event models.NormalizedPaymentEvent, log *slog.Logger) {
	if s.deduper == nil || event.EventID == "" {
		return
	}
	if err := s.deduper.Mark(ctx, event.Provider, event.EventID); err != nil {
		log.Warn("failed to remember payment event", "error", err)
	}
}
