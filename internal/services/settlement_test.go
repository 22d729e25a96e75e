package services

import (
	"context"
	"errors"
	"testing"

	"arena-registration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processingCart(t *testing.T, f *fixture, userID string) *models.Cart {
	t.Helper()
	ctx := context.Background()

	cart, err := f.ledger.CreateCart(ctx, models.CreateCartCommand{
		PayerID: userID,
		Items:   []models.CartItemRequest{{ItemID: "ticket-player", Quantity: 1}},
	})
	require.NoError(t, err)

	result, err := f.ledger.Transition(ctx, models.TransitionCartCommand{CartID: cart.ID, State: models.TransactionProcessing})
	require.NoError(t, err)
	return result.Cart
}

func etupayEvent(cartID, step string, outcome models.PaymentOutcome) models.NormalizedPaymentEvent {
	return models.NormalizedPaymentEvent{
		Provider:      models.ProviderEtupay,
		EventID:       "9001:" + step,
		CartID:        cartID,
		TransactionID: "9001",
		Outcome:       outcome,
	}
}

func TestSettlementService_PaidReplayIsSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")

	event := etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid)

	result, err := f.settlement.Apply(ctx, event)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, models.TransactionPaid, result.Cart.State)
	f.notifier.wait(t)

	// a replay with the event already remembered
	result, err = f.settlement.Apply(ctx, event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	// a replay the deduper lost track of
	f.deduper = newMemoryDeduper()
	f.settlement.deduper = f.deduper
	result, err = f.settlement.Apply(ctx, event)
	require.NoError(t, err)
	assert.False(t, result.Changed)

	stored, _ := f.store.Cart(cart.ID)
	assert.Equal(t, models.TransactionPaid, stored.State)
}

func TestSettlementService_RefusedOnPaidCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")

	_, err := f.settlement.Apply(ctx, etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
	require.NoError(t, err)

	_, err = f.settlement.Apply(ctx, etupayEvent(cart.ID, EtupayStepRefused, models.OutcomeRefused))
	require.Error(t, err)
	assert.Equal(t, models.ErrAlreadyPaid, models.KindOf(err))

	stored, _ := f.store.Cart(cart.ID)
	assert.Equal(t, models.TransactionPaid, stored.State)
	assert.False(t, f.deduper.seen["etupay:9001:REFUSED"], "rejected events are not remembered")
}

func TestSettlementService_PaidOnRefusedCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")

	_, err := f.settlement.Apply(ctx, etupayEvent(cart.ID, EtupayStepRefused, models.OutcomeRefused))
	require.NoError(t, err)

	_, err = f.settlement.Apply(ctx, etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
	assert.Equal(t, models.ErrAlreadyErrored, models.KindOf(err))
}

func TestSettlementService_LateProcessingEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")

	_, err := f.settlement.Apply(ctx, models.NormalizedPaymentEvent{
		Provider: models.ProviderStripe, EventID: "evt_succeeded", TransactionID: "pi_1", CartID: cart.ID, Outcome: models.OutcomePaid,
	})
	require.NoError(t, err)

	result, err := f.settlement.Apply(ctx, models.NormalizedPaymentEvent{
		Provider: models.ProviderStripe, EventID: "evt_processing", TransactionID: "pi_1", Outcome: models.OutcomeProcessing,
	})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.True(t, f.deduper.seen["stripe:evt_processing"])
}

func TestSettlementService_UnknownCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.settlement.Apply(context.Background(), etupayEvent("missing", EtupayStepPaid, models.OutcomePaid))
	assert.Equal(t, models.ErrCartNotFound, models.KindOf(err))

	_, err = f.settlement.Apply(context.Background(), models.NormalizedPaymentEvent{CartID: "x", Outcome: "exploded"})
	assert.Equal(t, models.ErrInvalidQueryParameters, models.KindOf(err))
}

func TestSettlementService_DeduperOutageDoesNotBlockSettlement(t *testing.T) {
	f := newFixture(t)
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")
	f.deduper.err = errors.New("redis: connection refused")

	result, err := f.settlement.Apply(context.Background(), etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
	require.NoError(t, err)
	assert.True(t, result.Changed)
}

func TestSettlementService_WithoutDeduper(t *testing.T) {
	f := newFixture(t)
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")
	settlement := NewSettlementService(f.ledger, nil, f.settlement.logger)

	for i := 0; i < 3; i++ {
		_, err := settlement.Apply(context.Background(), etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
		require.NoError(t, err)
	}

	paid := 0
	for _, c := range f.store.Carts() {
		if c.IsPaid() {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestSettlementService_PaymentLocksTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tournament("solo", 1, 1, 0)
	team, players := f.team(t, "solo", "x", 1)
	cart := processingCart(t, f, players[0])

	result, err := f.settlement.Apply(ctx, etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
	require.NoError(t, err)
	require.Len(t, result.Teams, 1)
	assert.Equal(t, team, result.Teams[0].TeamID)
	assert.Equal(t, models.TeamLocked, result.Teams[0].To)
}

func TestSettlementService_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	typedUser(f, "alice", models.UserTypePlayer)
	cart := processingCart(t, f, "alice")
	require.NoError(t, f.ledger.AttachTransaction(ctx, cart.ID, "pi_1"))

	byCart, err := f.settlement.Resolve(ctx, etupayEvent(cart.ID, EtupayStepPaid, models.OutcomePaid))
	require.NoError(t, err)
	assert.Equal(t, cart.ID, byCart.ID)

	byTransaction, err := f.settlement.Resolve(ctx, models.NormalizedPaymentEvent{
		Provider:      models.ProviderStripe,
		TransactionID: "pi_1",
		Outcome:       models.OutcomePaid,
	})
	require.NoError(t, err)
	assert.Equal(t, cart.ID, byTransaction.ID)

	_, err = f.settlement.Resolve(ctx, models.NormalizedPaymentEvent{
		Provider:      models.ProviderStripe,
		TransactionID: "pi_unknown",
		Outcome:       models.OutcomePaid,
	})
	assert.Equal(t, models.ErrCartNotFound, models.KindOf(err))

	// resolving never moves the cart
	stored, ok := f.store.Cart(cart.ID)
	require.True(t, ok)
	assert.Equal(t, models.TransactionProcessing, stored.State)
}
