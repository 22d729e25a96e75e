package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arena-registration/internal/models"
)

// MemoryStore is an in-process Store. One mutex is held for the whole unit of
// work, so every transaction is serialized; a failed unit restores the
// snapshot taken when it began.
type MemoryStore struct {
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	items       map[string]models.Item
	users       map[string]models.User
	carts       map[string]models.Cart
	teams       map[string]models.Team
	tournaments map[string]models.Tournament
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memoryData{
		items:       make(map[string]models.Item),
		users:       make(map[string]models.User),
		carts:       make(map[string]models.Cart),
		teams:       make(map[string]models.Team),
		tournaments: make(map[string]models.Tournament),
	}}
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		items:       make(map[string]models.Item, len(d.items)),
		users:       make(map[string]models.User, len(d.users)),
		carts:       make(map[string]models.Cart, len(d.carts)),
		teams:       make(map[string]models.Team, len(d.teams)),
		tournaments: make(map[string]models.Tournament, len(d.tournaments)),
	}
	for id, item := range d.items {
		c.items[id] = cloneItem(item)
	}
	for id, user := range d.users {
		c.users[id] = user.Clone()
	}
	for id, cart := range d.carts {
		c.carts[id] = cart.Clone()
	}
	for id, team := range d.teams {
		c.teams[id] = team.Clone()
	}
	for id, tournament := range d.tournaments {
		c.tournaments[id] = tournament
	}
	return c
}

func cloneItem(item models.Item) models.Item {
	if item.Stock != nil {
		stock := *item.Stock
		item.Stock = &stock
	}
	return item
}

// WithTx runs fn with exclusive access to the store
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	if err := fn(ctx, &memTx{data: &s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// SeedItem adds or replaces a catalog item
func (s *MemoryStore) SeedItem(item models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.items[item.ID] = cloneItem(item)
}

// SeedUser adds or replaces a user
func (s *MemoryStore) SeedUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[user.ID] = user.Clone()
}

// SeedTournament adds or replaces a tournament
func (s *MemoryStore) SeedTournament(tournament models.Tournament) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tournaments[tournament.ID] = tournament
}

// SeedTeam adds or replaces a team
func (s *MemoryStore) SeedTeam(team models.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.teams[team.ID] = team.Clone()
}

// SeedCart adds or replaces a cart
func (s *MemoryStore) SeedCart(cart models.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.carts[cart.ID] = cart.Clone()
}

// Team returns a copy of a stored team
func (s *MemoryStore) Team(id string) (models.Team, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.data.teams[id]
	return team.Clone(), ok
}

// Cart returns a copy of a stored cart
func (s *MemoryStore) Cart(id string) (models.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.data.carts[id]
	return cart.Clone(), ok
}

// User returns a copy of a stored user
func (s *MemoryStore) User(id string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.users[id]
	return user.Clone(), ok
}

// Carts returns copies of every stored cart
func (s *MemoryStore) Carts() []models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	carts := make([]models.Cart, 0, len(s.data.carts))
	for _, cart := range s.data.carts {
		carts = append(carts, cart.Clone())
	}
	sort.Slice(carts, func(i, j int) bool { return carts[i].ID < carts[j].ID })
	return carts
}

// memTx implements Tx on the store's maps. It is only valid while the
// store's mutex is held by WithTx.
type memTx struct {
	data *memoryData
}

func (t *memTx) GetItem(_ context.Context, id string) (*models.Item, error) {
	item, ok := t.data.items[id]
	if !ok {
		return nil, nil
	}
	item = cloneItem(item)
	return &item, nil
}

func (t *memTx) LockItem(ctx context.Context, id string) (*models.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *memTx) CountItemHeld(_ context.Context, itemID string) (int, error) {
	held := 0
	for _, cart := range t.data.carts {
		if !cart.State.HoldsStock() {
			continue
		}
		for _, item := range cart.Items {
			if item.ItemID == itemID {
				held += item.Quantity
			}
		}
	}
	return held, nil
}

func (t *memTx) GetUser(_ context.Context, id string) (*models.User, error) {
	user, ok := t.data.users[id]
	if !ok {
		return nil, nil
	}
	user = user.Clone()
	return &user, nil
}

func (t *memTx) LockUser(ctx context.Context, id string) (*models.User, error) {
	return t.GetUser(ctx, id)
}

func (t *memTx) ListTeamMembers(_ context.Context, teamID string) ([]models.User, error) {
	var members []models.User
	for _, user := range t.data.users {
		if user.InTeam(teamID) {
			members = append(members, user.Clone())
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

func (t *memTx) SetUserTeam(_ context.Context, userID string, teamID *string, userType *models.UserType) error {
	user, ok := t.data.users[userID]
	if !ok {
		return fmt.Errorf("user with id %s not found", userID)
	}
	user.TeamID = nil
	if teamID != nil {
		id := *teamID
		user.TeamID = &id
	}
	if userType != nil {
		typ := *userType
		user.Type = &typ
	}
	t.data.users[userID] = user
	return nil
}

func (t *memTx) HasPaidTicket(_ context.Context, userID string) (bool, error) {
	for _, cart := range t.data.carts {
		if !cart.IsPaid() {
			continue
		}
		for _, line := range cart.Items {
			if line.ForUserID != userID {
				continue
			}
			if item, ok := t.data.items[line.ItemID]; ok && item.IsTicket() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) InsertCart(_ context.Context, cart *models.Cart) error {
	if _, exists := t.data.carts[cart.ID]; exists {
		return fmt.Errorf("cart with id %s already exists", cart.ID)
	}
	if cart.TransactionID != nil {
		if other := t.cartByTransactionID(*cart.TransactionID); other != nil {
			return fmt.Errorf("transaction id %s already used by cart %s", *cart.TransactionID, other.ID)
		}
	}
	stored := cart.Clone()
	for i := range stored.Items {
		stored.Items[i].CartID = cart.ID
	}
	t.data.carts[cart.ID] = stored
	return nil
}

func (t *memTx) GetCart(_ context.Context, id string) (*models.Cart, error) {
	cart, ok := t.data.carts[id]
	if !ok {
		return nil, nil
	}
	cart = cart.Clone()
	return &cart, nil
}

func (t *memTx) GetCartForUpdate(ctx context.Context, id string) (*models.Cart, error) {
	return t.GetCart(ctx, id)
}

func (t *memTx) GetCartByTransactionID(_ context.Context, transactionID string) (*models.Cart, error) {
	cart := t.cartByTransactionID(transactionID)
	if cart == nil {
		return nil, nil
	}
	clone := cart.Clone()
	return &clone, nil
}

func (t *memTx) cartByTransactionID(transactionID string) *models.Cart {
	for _, cart := range t.data.carts {
		if cart.TransactionID != nil && *cart.TransactionID == transactionID {
			return &cart
		}
	}
	return nil
}

func (t *memTx) UpdateCartState(_ context.Context, cart *models.Cart) error {
	stored, ok := t.data.carts[cart.ID]
	if !ok {
		return fmt.Errorf("cart with id %s not found", cart.ID)
	}
	if cart.TransactionID != nil {
		if other := t.cartByTransactionID(*cart.TransactionID); other != nil && other.ID != cart.ID {
			return fmt.Errorf("transaction id %s already used by cart %s", *cart.TransactionID, other.ID)
		}
	}
	updated := cart.Clone()
	stored.State = updated.State
	stored.TransactionID = updated.TransactionID
	stored.PaidAt = updated.PaidAt
	stored.UpdatedAt = updated.UpdatedAt
	t.data.carts[cart.ID] = stored
	return nil
}

func (t *memTx) ListCartsByState(_ context.Context, state models.TransactionState, createdBefore time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	for _, cart := range t.data.carts {
		if cart.State == state && cart.CreatedAt.Before(createdBefore) {
			carts = append(carts, cart.Clone())
		}
	}
	sort.Slice(carts, func(i, j int) bool {
		if !carts[i].CreatedAt.Equal(carts[j].CreatedAt) {
			return carts[i].CreatedAt.Before(carts[j].CreatedAt)
		}
		return carts[i].ID < carts[j].ID
	})
	return carts, nil
}

func (t *memTx) InsertTeam(_ context.Context, team *models.Team) error {
	if _, exists := t.data.teams[team.ID]; exists {
		return fmt.Errorf("team with id %s already exists", team.ID)
	}
	for _, other := range t.data.teams {
		if other.TournamentID == team.TournamentID && other.Name == team.Name {
			return fmt.Errorf("team name %q already taken in tournament %s", team.Name, team.TournamentID)
		}
	}
	t.data.teams[team.ID] = team.Clone()
	return nil
}

func (t *memTx) GetTeam(_ context.Context, id string) (*models.Team, error) {
	team, ok := t.data.teams[id]
	if !ok {
		return nil, nil
	}
	team = team.Clone()
	return &team, nil
}

func (t *memTx) UpdateTeam(_ context.Context, team *models.Team) error {
	stored, ok := t.data.teams[team.ID]
	if !ok {
		return fmt.Errorf("team with id %s not found", team.ID)
	}
	if team.LockedAt != nil && team.EnteredQueueAt != nil {
		return fmt.Errorf("team %s cannot be both locked and queued", team.ID)
	}
	updated := team.Clone()
	stored.CaptainID = updated.CaptainID
	stored.LockedAt = updated.LockedAt
	stored.EnteredQueueAt = updated.EnteredQueueAt
	t.data.teams[team.ID] = stored
	return nil
}

func (t *memTx) DeleteTeam(_ context.Context, id string) error {
	delete(t.data.teams, id)
	for userID, user := range t.data.users {
		if user.InTeam(id) {
			user.TeamID = nil
			t.data.users[userID] = user
		}
	}
	return nil
}

func (t *memTx) ListTeams(_ context.Context, tournamentID string) ([]models.Team, error) {
	var teams []models.Team
	for _, team := range t.data.teams {
		if team.TournamentID == tournamentID {
			teams = append(teams, team.Clone())
		}
	}
	sort.Slice(teams, func(i, j int) bool {
		if !teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
		return teams[i].ID < teams[j].ID
	})
	return teams, nil
}

func (t *memTx) ListQueuedTeams(_ context.Context, tournamentID string) ([]models.Team, error) {
	var queue []models.Team
	for _, team := range t.data.teams {
		if team.TournamentID == tournamentID && team.IsQueued() {
			queue = append(queue, team.Clone())
		}
	}
	sort.Slice(queue, func(i, j int) bool { return models.QueueBefore(&queue[i], &queue[j]) })
	return queue, nil
}

func (t *memTx) CountLockedTeams(_ context.Context, tournamentID string) (int, error) {
	count := 0
	for _, team := range t.data.teams {
		if team.TournamentID == tournamentID && team.IsLocked() {
			count++
		}
	}
	return count, nil
}

func (t *memTx) GetTournament(_ context.Context, id string) (*models.Tournament, error) {
	tournament, ok := t.data.tournaments[id]
	if !ok {
		return nil, nil
	}
	return &tournament, nil
}

func (t *memTx) LockTournament(ctx context.Context, id string) (*models.Tournament, error) {
	return t.GetTournament(ctx, id)
}
