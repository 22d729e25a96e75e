package models

import "time"

// TeamState is derived from lockedAt/enteredQueueAt
type TeamState string

const (
	TeamForming TeamState = "forming"
	TeamQueued  TeamState = "queued"
	TeamLocked  TeamState = "locked"
)

// Team represents a roster registered to a tournament
type Team struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	TournamentID   string     `json:"tournamentId" db:"tournament_id"`
	CaptainID      string     `json:"captainId" db:"captain_id"`
	LockedAt       *time.Time `json:"lockedAt" db:"locked_at"`
	EnteredQueueAt *time.Time `json:"enteredQueueAt" db:"entered_queue_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// State returns the capacity state of the team
func (t *Team) State() TeamState {
	switch {
	case t.LockedAt != nil:
		return TeamLocked
	case t.EnteredQueueAt != nil:
		return TeamQueued
	default:
		return TeamForming
	}
}

// IsLocked returns true if the team holds a slot
func (t *Team) IsLocked() bool {
	return t.LockedAt != nil
}

// IsQueued returns true if the team waits for a slot
func (t *Team) IsQueued() bool {
	return t.LockedAt == nil && t.EnteredQueueAt != nil
}

// Lock stamps lockedAt and leaves the queue
func (t *Team) Lock(now time.Time) {
	t.LockedAt = &now
	t.EnteredQueueAt = nil
}

// Enqueue stamps enteredQueueAt unless the team already has a queue position
func (t *Team) Enqueue(now time.Time) {
	t.LockedAt = nil
	if t.EnteredQueueAt == nil {
		t.EnteredQueueAt = &now
	}
}

// Release puts the team back to forming
func (t *Team) Release() {
	t.LockedAt = nil
	t.EnteredQueueAt = nil
}

// Clone returns a deep copy of the team
func (t Team) Clone() Team {
	clone := t
	if t.LockedAt != nil {
		lockedAt := *t.LockedAt
		clone.LockedAt = &lockedAt
	}
	if t.EnteredQueueAt != nil {
		enteredQueueAt := *t.EnteredQueueAt
		clone.EnteredQueueAt = &enteredQueueAt
	}
	return clone
}

// QueueBefore orders queued teams by arrival, ties broken by id
func QueueBefore(a, b *Team) bool {
	if a.EnteredQueueAt == nil || b.EnteredQueueAt == nil {
		return a.EnteredQueueAt != nil
	}
	if !a.EnteredQueueAt.Equal(*b.EnteredQueueAt) {
		return a.EnteredQueueAt.Before(*b.EnteredQueueAt)
	}
	return a.ID < b.ID
}

// Tournament holds the capacity configuration of one competition
type Tournament struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	MaxPlayers     int    `json:"maxPlayers" db:"max_players"`
	PlayersPerTeam int    `json:"playersPerTeam" db:"players_per_team"`
	CoachesPerTeam int    `json:"coachesPerTeam" db:"coaches_per_team"`
}

// TeamSize returns the number of capacity slots one team takes
func (t *Tournament) TeamSize() int {
	return t.PlayersPerTeam
}

// RemainingPlayers returns the free capacity given the number of locked teams
func (t *Tournament) RemainingPlayers(lockedTeams int) int {
	return t.MaxPlayers - lockedTeams*t.PlayersPerTeam
}

// Fits reports whether one more team fits next to lockedTeams
func (t *Tournament) Fits(lockedTeams int) bool {
	return t.RemainingPlayers(lockedTeams) >= t.TeamSize()
}

// MaxTeams returns how many teams can be locked at once
func (t *Tournament) MaxTeams() int {
	if t.PlayersPerTeam <= 0 {
		return 0
	}
	return t.MaxPlayers / t.PlayersPerTeam
}
