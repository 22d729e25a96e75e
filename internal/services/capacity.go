package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"
)

// TeamChange records what a reconciliation did to one team
type TeamChange struct {
	TeamID   string           `json:"teamId"`
	From     models.TeamState `json:"from"`
	To       models.TeamState `json:"to"`
	Promoted []string         `json:"promoted,omitempty"`
}

// Changed returns true if the team moved or others were promoted
func (c TeamChange) Changed() bool {
	return c.From != c.To || len(c.Promoted) > 0
}

// TeamView is a team with its roster and readiness
type TeamView struct {
	Team      *models.Team     `json:"team"`
	State     models.TeamState `json:"state"`
	Members   []models.User    `json:"members"`
	Readiness *Readiness       `json:"readiness"`
	Promoted  []string         `json:"promoted,omitempty"`
}

// TournamentView is the capacity state of a tournament
type TournamentView struct {
	Tournament       *models.Tournament `json:"tournament"`
	LockedTeams      int                `json:"lockedTeams"`
	RemainingPlayers int                `json:"remainingPlayers"`
	RemainingTeams   int                `json:"remainingTeams"`
	Queue            []models.Team      `json:"queue"`
	Teams            []models.Team      `json:"teams"`
}

// CapacityGate decides whether ready teams get a slot or wait in the queue.
// Every decision for a tournament runs after LockTournament in the same
// transaction, which makes the tournament row the serialization point.
type CapacityGate struct {
	store     repositories.Store
	promotion *PromotionScheduler
	logger    *slog.Logger
	now       Clock
}

// NewCapacityGate creates a capacity gate
func NewCapacityGate(store repositories.Store, promotion *PromotionScheduler, logger *slog.Logger, now Clock) *CapacityGate {
	if now == nil {
		now = time.Now
	}
	return &CapacityGate{store: store, promotion: promotion, logger: logger, now: now}
}

// lockTeam loads a team and locks its tournament, then reloads the team so
// the returned row reflects every commit that happened before the lock.
func lockTeam(ctx context.Context, tx repositories.Tx, teamID string) (*models.Team, *models.Tournament, error) {
	team, err := tx.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, models.NewError(models.ErrTeamNotFound, "team %s not found", teamID)
	}

	tournament, err := tx.LockTournament(ctx, team.TournamentID)
	if err != nil {
		return nil, nil, err
	}
	if tournament == nil {
		return nil, nil, models.NewError(models.ErrTournamentNotFound, "tournament %s not found", team.TournamentID)
	}

	team, err = tx.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, models.NewError(models.ErrTeamNotFound, "team %s not found", teamID)
	}
	return team, tournament, nil
}

// Reconcile re-evaluates a team and applies the capacity state machine:
//
//	forming + ready     -> locked if a slot is free and nobody waits, else queued
//	queued  + ready     -> unchanged, only promotion moves a queued team
//	locked  + not ready -> forming, then the queue is promoted
//	queued  + not ready -> forming
func (g *CapacityGate) Reconcile(ctx context.Context, tx repositories.Tx, teamID string) (*TeamChange, error) {
	team, tournament, err := lockTeam(ctx, tx, teamID)
	if err != nil {
		return nil, err
	}

	readiness, err := EvaluateReadiness(ctx, tx, team, tournament)
	if err != nil {
		return nil, err
	}

	change := &TeamChange{TeamID: team.ID, From: team.State()}

	switch {
	case change.From == models.TeamForming && readiness.Ready:
		locked, err := tx.CountLockedTeams(ctx, tournament.ID)
		if err != nil {
			return nil, err
		}
		queue, err := tx.ListQueuedTeams(ctx, tournament.ID)
		if err != nil {
			return nil, err
		}
		if tournament.Fits(locked) && len(queue) == 0 {
			team.Lock(g.now())
		} else {
			team.Enqueue(g.now())
		}
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return nil, err
		}

	case change.From == models.TeamLocked && !readiness.Ready:
		team.Release()
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return nil, err
		}
		promoted, err := g.promotion.Promote(ctx, tx, tournament)
		if err != nil {
			return nil, err
		}
		change.Promoted = promoted

	case change.From == models.TeamQueued && !readiness.Ready:
		team.Release()
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return nil, err
		}
	}

	change.To = team.State()
	if change.Changed() {
		g.logger.Info("team capacity state changed",
			"team_id", team.ID,
			"tournament_id", tournament.ID,
			"from", change.From,
			"to", change.To,
			"promoted", change.Promoted,
		)
	}

	return change, nil
}

// ReconcileTeams reconciles several teams, locking their tournaments in
// ascending id order so concurrent units of work cannot deadlock.
func (g *CapacityGate) ReconcileTeams(ctx context.Context, tx repositories.Tx, teamIDs []string) ([]TeamChange, error) {
	type target struct {
		teamID       string
		tournamentID string
	}

	seen := make(map[string]bool, len(teamIDs))
	var targets []target
	for _, id := range teamIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		team, err := tx.GetTeam(ctx, id)
		if err != nil {
			return nil, err
		}
		if team == nil {
			continue
		}
		targets = append(targets, target{teamID: team.ID, tournamentID: team.TournamentID})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].tournamentID != targets[j].tournamentID {
			return targets[i].tournamentID < targets[j].tournamentID
		}
		return targets[i].teamID < targets[j].teamID
	})

	changes := make([]TeamChange, 0, len(targets))
	for _, t := range targets {
		change, err := g.Reconcile(ctx, tx, t.teamID)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

// LockTeam gives a team a slot. Locking an already locked team is a no-op.
func (g *CapacityGate) LockTeam(ctx context.Context, teamID string) (*TeamView, error) {
	return g.SetTeamLock(ctx, models.LockTeamCommand{TeamID: teamID, Lock: true})
}

// UnlockTeam puts a team back to forming. Unlocking a forming team is a no-op.
func (g *CapacityGate) UnlockTeam(ctx context.Context, teamID string) (*TeamView, error) {
	return g.SetTeamLock(ctx, models.LockTeamCommand{TeamID: teamID, Lock: false})
}

// SetTeamLock applies an administrative lock or unlock
func (g *CapacityGate) SetTeamLock(ctx context.Context, cmd models.LockTeamCommand) (*TeamView, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var view *TeamView
	err := g.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, tournament, err := lockTeam(ctx, tx, cmd.TeamID)
		if err != nil {
			return err
		}

		var promoted []string
		if cmd.Lock {
			promoted, err = g.adminLock(ctx, tx, team, tournament)
		} else {
			promoted, err = g.adminUnlock(ctx, tx, team, tournament)
		}
		if err != nil {
			return err
		}

		view, err = g.teamView(ctx, tx, team.ID, tournament)
		if err != nil {
			return err
		}
		view.Promoted = promoted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (g *CapacityGate) adminLock(ctx context.Context, tx repositories.Tx, team *models.Team, tournament *models.Tournament) ([]string, error) {
	if team.IsLocked() {
		return nil, nil
	}

	readiness, err := EvaluateReadiness(ctx, tx, team, tournament)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		return nil, readiness.Err()
	}

	locked, err := tx.CountLockedTeams(ctx, tournament.ID)
	if err != nil {
		return nil, err
	}
	if !tournament.Fits(locked) {
		return nil, models.NewError(models.ErrTournamentFull, "tournament %s has no slot left (%d/%d players)",
			tournament.ID, locked*tournament.PlayersPerTeam, tournament.MaxPlayers)
	}

	team.Lock(g.now())
	if err := tx.UpdateTeam(ctx, team); err != nil {
		return nil, err
	}
	g.logger.Info("team locked by admin", "team_id", team.ID, "tournament_id", tournament.ID)
	return nil, nil
}

func (g *CapacityGate) adminUnlock(ctx context.Context, tx repositories.Tx, team *models.Team, tournament *models.Tournament) ([]string, error) {
	wasLocked := team.IsLocked()
	if team.State() == models.TeamForming {
		return nil, nil
	}

	team.Release()
	if err := tx.UpdateTeam(ctx, team); err != nil {
		return nil, err
	}
	g.logger.Info("team unlocked by admin", "team_id", team.ID, "tournament_id", tournament.ID, "was_locked", wasLocked)

	if !wasLocked {
		return nil, nil
	}
	return g.promotion.Promote(ctx, tx, tournament)
}

// DeleteTeam detaches the members, deletes the team and promotes the queue
// if the team held a slot. It returns the promoted team ids.
func (g *CapacityGate) DeleteTeam(ctx context.Context, teamID string) ([]string, error) {
	var promoted []string
	err := g.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, tournament, err := lockTeam(ctx, tx, teamID)
		if err != nil {
			return err
		}

		members, err := tx.ListTeamMembers(ctx, team.ID)
		if err != nil {
			return err
		}
		for _, member := range members {
			if err := tx.SetUserTeam(ctx, member.ID, nil, nil); err != nil {
				return err
			}
		}

		if err := tx.DeleteTeam(ctx, team.ID); err != nil {
			return err
		}
		g.logger.Info("team deleted", "team_id", team.ID, "tournament_id", tournament.ID, "was_locked", team.IsLocked())

		if team.IsLocked() {
			promoted, err = g.promotion.Promote(ctx, tx, tournament)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// FetchTeam returns a team with its roster and readiness
func (g *CapacityGate) FetchTeam(ctx context.Context, teamID string) (*TeamView, error) {
	var view *TeamView
	err := g.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if team == nil {
			return models.NewError(models.ErrTeamNotFound, "team %s not found", teamID)
		}
		tournament, err := tx.GetTournament(ctx, team.TournamentID)
		if err != nil {
			return err
		}
		if tournament == nil {
			return models.NewError(models.ErrTournamentNotFound, "tournament %s not found", team.TournamentID)
		}
		view, err = g.teamView(ctx, tx, teamID, tournament)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (g *CapacityGate) teamView(ctx context.Context, tx repositories.Tx, teamID string, tournament *models.Tournament) (*TeamView, error) {
	team, err := tx.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, models.NewError(models.ErrTeamNotFound, "team %s not found", teamID)
	}

	members, err := tx.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	readiness, err := EvaluateReadiness(ctx, tx, team, tournament)
	if err != nil {
		return nil, err
	}

	return &TeamView{Team: team, State: team.State(), Members: members, Readiness: readiness}, nil
}

// FetchTournament returns the capacity state and queue of a tournament
func (g *CapacityGate) FetchTournament(ctx context.Context, tournamentID string) (*TournamentView, error) {
	var view *TournamentView
	err := g.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		tournament, err := tx.GetTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		if tournament == nil {
			return models.NewError(models.ErrTournamentNotFound, "tournament %s not found", tournamentID)
		}

		locked, err := tx.CountLockedTeams(ctx, tournament.ID)
		if err != nil {
			return err
		}
		queue, err := tx.ListQueuedTeams(ctx, tournament.ID)
		if err != nil {
			return err
		}
		teams, err := tx.ListTeams(ctx, tournament.ID)
		if err != nil {
			return err
		}

		view = &TournamentView{
			Tournament:       tournament,
			LockedTeams:      locked,
			RemainingPlayers: tournament.RemainingPlayers(locked),
			RemainingTeams:   tournament.MaxTeams() - locked,
			Queue:            queue,
			Teams:            teams,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
