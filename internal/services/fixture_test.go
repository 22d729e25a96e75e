package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arena-registration/internal/logger"
	"arena-registration/internal/models"
	"arena-registration/internal/repositories"

	"github.com/stretchr/testify/require"
)

// testClock ticks one millisecond per read so successive stamps are ordered
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	carts []string
	sent  chan string
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan string, 64)}
}

func (n *recordingNotifier) NotifyPaymentOutcome(_ context.Context, cart *models.Cart) error {
	n.mu.Lock()
	n.carts = append(n.carts, cart.ID)
	n.mu.Unlock()
	n.sent <- cart.ID
	return n.err
}

func (n *recordingNotifier) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-n.sent:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
		return ""
	}
}

type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{seen: make(map[string]bool)}
}

func (d *memoryDeduper) Seen(_ context.Context, provider models.PaymentProvider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.seen[string(provider)+":"+eventID], nil
}

func (d *memoryDeduper) Mark(_ context.Context, provider models.PaymentProvider, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.seen[string(provider)+":"+eventID] = true
	return nil
}

type fixture struct {
	store      *repositories.MemoryStore
	clock      *testClock
	notifier   *recordingNotifier
	deduper    *memoryDeduper
	gate       *CapacityGate
	ledger     *Ledger
	roster     *RosterService
	settlement *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.Discard()
	store := repositories.NewMemoryStore()
	clock := newTestClock()
	notifier := newRecordingNotifier()
	deduper := newMemoryDeduper()

	gate := NewCapacityGate(store, NewPromotionScheduler(log, clock.Now), log, clock.Now)
	ledger := NewLedger(store, gate, notifier, log, clock.Now)

	f := &fixture{
		store:      store,
		clock:      clock,
		notifier:   notifier,
		deduper:    deduper,
		gate:       gate,
		ledger:     ledger,
		roster:     NewRosterService(store, gate, log, clock.Now),
		settlement: NewSettlementService(ledger, deduper, log),
	}
	f.seedCatalog()
	return f
}

func intPtr(v int) *int { return &v }

func (f *fixture) seedCatalog() {
	f.store.SeedItem(models.Item{ID: "ticket-player", Name: "Player ticket", Category: models.ItemCategoryTicket, Price: 1500})
	f.store.SeedItem(models.Item{ID: "ticket-coach", Name: "Coach ticket", Category: models.ItemCategoryTicket, Price: 1200})
	f.store.SeedItem(models.Item{ID: "ticket-spectator", Name: "Spectator ticket", Category: models.ItemCategoryTicket, Price: 1000})
	f.store.SeedItem(models.Item{ID: "ethernet-7", Name: "Ethernet cable 7m", Category: models.ItemCategorySupplement, Price: 800, Stock: intPtr(2)})
	f.store.SeedItem(models.Item{ID: "pizza", Name: "Pizza", Category: models.ItemCategorySupplement, Price: 900})
}

func (f *fixture) tournament(id string, maxPlayers, playersPerTeam, coachesPerTeam int) {
	f.store.SeedTournament(models.Tournament{
		ID:             id,
		Name:           id,
		MaxPlayers:     maxPlayers,
		PlayersPerTeam: playersPerTeam,
		CoachesPerTeam: coachesPerTeam,
	})
}

func (f *fixture) user(id string) {
	f.store.SeedUser(models.User{ID: id, Username: id, Email: id + "@arena.test"})
}

// team creates a team whose captain is the first of the players it seeds
func (f *fixture) team(t *testing.T, tournamentID, name string, players int) (string, []string) {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, players)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-p%d", name, i+1)
		f.user(ids[i])
	}

	view, err := f.roster.CreateTeam(ctx, CreateTeamCommand{
		Name:         name,
		TournamentID: tournamentID,
		CaptainID:    ids[0],
		UserType:     models.UserTypePlayer,
	})
	require.NoError(t, err)

	for _, id := range ids[1:] {
		_, err := f.roster.JoinTeam(ctx, JoinTeamCommand{TeamID: view.Team.ID, UserID: id, UserType: models.UserTypePlayer})
		require.NoError(t, err)
	}
	return view.Team.ID, ids
}

// payTicket runs the checkout path of a ticket for userID up to paid
func (f *fixture) payTicket(t *testing.T, userID string) *models.Cart {
	t.Helper()
	ctx := context.Background()

	user, ok := f.store.User(userID)
	require.True(t, ok)
	require.True(t, user.HasType())

	cart, err := f.ledger.CreateCart(ctx, models.CreateCartCommand{
		PayerID: userID,
		Items:   []models.CartItemRequest{{ItemID: models.TicketItemID(*user.Type), Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.ledger.Transition(ctx, models.TransitionCartCommand{CartID: cart.ID, State: models.TransactionProcessing})
	require.NoError(t, err)

	result, err := f.ledger.Transition(ctx, models.TransitionCartCommand{
		CartID:        cart.ID,
		State:         models.TransactionPaid,
		TransactionID: "tx-" + cart.ID,
	})
	require.NoError(t, err)
	require.True(t, result.Changed)
	return result.Cart
}

func (f *fixture) payAll(t *testing.T, userIDs []string) {
	t.Helper()
	for _, id := range userIDs {
		f.payTicket(t, id)
	}
}

func (f *fixture) teamState(t *testing.T, teamID string) models.TeamState {
	t.Helper()
	team, ok := f.store.Team(teamID)
	require.True(t, ok, "team %s not found", teamID)
	require.False(t, team.LockedAt != nil && team.EnteredQueueAt != nil, "team %s is both locked and queued", teamID)
	return team.State()
}

func (f *fixture) lockedPlayers(t *testing.T, tournamentID string) int {
	t.Helper()
	view, err := f.gate.FetchTournament(context.Background(), tournamentID)
	require.NoError(t, err)
	return view.LockedTeams * view.Tournament.PlayersPerTeam
}
