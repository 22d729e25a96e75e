package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"

	"github.com/google/uuid"
)

// CreateTeamCommand creates a team with its captain as first member
type CreateTeamCommand struct {
	Name         string          `json:"name"`
	TournamentID string          `json:"tournamentId"`
	CaptainID    string          `json:"-"`
	UserType     models.UserType `json:"userType"`
}

// Validate checks the command shape
func (c CreateTeamCommand) Validate() error {
	if strings.TrimSpace(c.Name) == "" || c.TournamentID == "" || c.CaptainID == "" {
		return models.NewError(models.ErrInvalidBody, "name, tournament and captain are required")
	}
	if !c.UserType.CanJoinTeam() {
		return models.NewError(models.ErrInvalidBody, "user type %q cannot join a team", c.UserType)
	}
	return nil
}

// JoinTeamCommand adds a user to a team
type JoinTeamCommand struct {
	TeamID   string          `json:"-"`
	UserID   string          `json:"-"`
	UserType models.UserType `json:"userType"`
}

// Validate checks the command shape
func (c JoinTeamCommand) Validate() error {
	if c.TeamID == "" || c.UserID == "" {
		return models.NewError(models.ErrInvalidBody, "team and user are required")
	}
	if !c.UserType.CanJoinTeam() {
		return models.NewError(models.ErrInvalidBody, "user type %q cannot join a team", c.UserType)
	}
	return nil
}

// RosterService mutates team membership. Every mutation re-evaluates the
// team through the capacity gate in the same transaction.
type RosterService struct {
	store  repositories.Store
	gate   *CapacityGate
	logger *slog.Logger
	now    Clock
	newID  func() string
}

// NewRosterService creates a roster service
func NewRosterService(store repositories.Store, gate *CapacityGate, logger *slog.Logger, now Clock) *RosterService {
	if now == nil {
		now = time.Now
	}
	return &RosterService{store: store, gate: gate, logger: logger, now: now, newID: uuid.NewString}
}

// CreateTeam creates a team in a tournament, captained by its creator
func (s *RosterService) CreateTeam(ctx context.Context, cmd CreateTeamCommand) (*TeamView, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var view *TeamView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		tournament, err := tx.LockTournament(ctx, cmd.TournamentID)
		if err != nil {
			return err
		}
		if tournament == nil {
			return models.NewError(models.ErrTournamentNotFound, "tournament %s not found", cmd.TournamentID)
		}
		if cmd.UserType == models.UserTypeCoach && tournament.CoachesPerTeam == 0 {
			return models.NewError(models.ErrInvalidBody, "tournament %s has no coach slots", tournament.ID)
		}

		user, err := tx.LockUser(ctx, cmd.CaptainID)
		if err != nil {
			return err
		}
		if user == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", cmd.CaptainID)
		}
		if user.TeamID != nil {
			return models.NewError(models.ErrAlreadyInTeam, "user %s is already in team %s", user.ID, *user.TeamID)
		}

		team := &models.Team{
			ID:           s.newID(),
			Name:         strings.TrimSpace(cmd.Name),
			TournamentID: tournament.ID,
			CaptainID:    user.ID,
			CreatedAt:    s.now(),
		}
		if err := tx.InsertTeam(ctx, team); err != nil {
			return err
		}
		userType := cmd.UserType
		if err := tx.SetUserTeam(ctx, user.ID, &team.ID, &userType); err != nil {
			return err
		}

		s.logger.Info("team created", "team_id", team.ID, "tournament_id", tournament.ID, "captain_id", user.ID)
		view, err = s.reconcile(ctx, tx, team.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// JoinTeam adds a user to a team that is not locked and has room for their type
func (s *RosterService) JoinTeam(ctx context.Context, cmd JoinTeamCommand) (*TeamView, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var view *TeamView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, tournament, err := lockTeam(ctx, tx, cmd.TeamID)
		if err != nil {
			return err
		}

		// the user row lock orders joins into teams of other tournaments
		user, err := tx.LockUser(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", cmd.UserID)
		}
		if user.TeamID != nil {
			return models.NewError(models.ErrAlreadyInTeam, "user %s is already in team %s", user.ID, *user.TeamID)
		}
		if team.IsLocked() {
			return models.NewError(models.ErrTeamLocked, "team %s is locked", team.ID)
		}

		if err := s.checkRoom(ctx, tx, team, tournament, cmd.UserType); err != nil {
			return err
		}

		userType := cmd.UserType
		if err := tx.SetUserTeam(ctx, user.ID, &team.ID, &userType); err != nil {
			return err
		}

		s.logger.Info("user joined team", "team_id", team.ID, "user_id", user.ID, "type", userType)
		view, err = s.reconcile(ctx, tx, team.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *RosterService) checkRoom(ctx context.Context, tx repositories.Tx, team *models.Team, tournament *models.Tournament, userType models.UserType) error {
	members, err := tx.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return err
	}

	count := 0
	for _, member := range members {
		if member.Type != nil && *member.Type == userType {
			count++
		}
	}

	limit := tournament.PlayersPerTeam
	if userType == models.UserTypeCoach {
		limit = tournament.CoachesPerTeam
	}
	if count >= limit {
		return models.NewError(models.ErrTeamFull, "team %s already has %d/%d %ss", team.ID, count, limit, userType)
	}
	return nil
}

// KickMember removes userID from the team. The captain may remove anyone
// but themselves; any other member may only remove themselves.
func (s *RosterService) KickMember(ctx context.Context, teamID, actorID, userID string) (*TeamView, error) {
	var view *TeamView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, _, err := lockTeam(ctx, tx, teamID)
		if err != nil {
			return err
		}

		if actorID != team.CaptainID && actorID != userID {
			return models.NewError(models.ErrNotCaptain, "user %s is not the captain of team %s", actorID, team.ID)
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", userID)
		}
		if !user.InTeam(team.ID) {
			return models.NewError(models.ErrNotInTeam, "user %s is not in team %s", userID, team.ID)
		}
		if userID == team.CaptainID {
			return models.NewError(models.ErrCaptainCannotLeave, "the captain must hand over the team before leaving")
		}

		if err := tx.SetUserTeam(ctx, user.ID, nil, nil); err != nil {
			return err
		}

		s.logger.Info("user removed from team", "team_id", team.ID, "user_id", user.ID, "actor_id", actorID)
		view, err = s.reconcile(ctx, tx, team.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ReplaceMember swaps a member for a user outside any team. The new user
// takes the old user's type, and the captaincy if the old user held it.
func (s *RosterService) ReplaceMember(ctx context.Context, teamID, oldUserID, newUserID string) (*TeamView, error) {
	if oldUserID == "" || newUserID == "" {
		return nil, models.NewError(models.ErrInvalidBody, "old and new user are required")
	}

	var view *TeamView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, _, err := lockTeam(ctx, tx, teamID)
		if err != nil {
			return err
		}

		oldUser, err := tx.GetUser(ctx, oldUserID)
		if err != nil {
			return err
		}
		if oldUser == nil || !oldUser.InTeam(team.ID) {
			return models.NewError(models.ErrNotInTeam, "user %s is not in team %s", oldUserID, team.ID)
		}

		newUser, err := tx.LockUser(ctx, newUserID)
		if err != nil {
			return err
		}
		if newUser == nil {
			return models.NewError(models.ErrUserNotFound, "user %s not found", newUserID)
		}
		if newUser.TeamID != nil {
			return models.NewError(models.ErrAlreadyInTeam, "user %s is already in team %s", newUser.ID, *newUser.TeamID)
		}

		if err := tx.SetUserTeam(ctx, oldUser.ID, nil, nil); err != nil {
			return err
		}
		if err := tx.SetUserTeam(ctx, newUser.ID, &team.ID, oldUser.Type); err != nil {
			return err
		}
		if team.CaptainID == oldUser.ID {
			team.CaptainID = newUser.ID
			if err := tx.UpdateTeam(ctx, team); err != nil {
				return err
			}
		}

		s.logger.Info("team member replaced", "team_id", team.ID, "old_user_id", oldUser.ID, "new_user_id", newUser.ID)
		view, err = s.reconcile(ctx, tx, team.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// PromoteCaptain hands the captaincy to another member
func (s *RosterService) PromoteCaptain(ctx context.Context, teamID, actorID, userID string) (*TeamView, error) {
	var view *TeamView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		team, _, err := lockTeam(ctx, tx, teamID)
		if err != nil {
			return err
		}

		if actorID != team.CaptainID {
			return models.NewError(models.ErrNotCaptain, "user %s is not the captain of team %s", actorID, team.ID)
		}
		if userID == team.CaptainID {
			return models.NewError(models.ErrAlreadyCaptain, "user %s is already the captain", userID)
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil || !user.InTeam(team.ID) {
			return models.NewError(models.ErrNotInTeam, "user %s is not in team %s", userID, team.ID)
		}

		team.CaptainID = user.ID
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return err
		}

		s.logger.Info("team captain changed", "team_id", team.ID, "captain_id", user.ID)
		view, err = s.reconcile(ctx, tx, team.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *RosterService) reconcile(ctx context.Context, tx repositories.Tx, teamID string) (*TeamView, error) {
	change, err := s.gate.Reconcile(ctx, tx, teamID)
	if err != nil {
		return nil, err
	}

	team, err := tx.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	tournament, err := tx.GetTournament(ctx, team.TournamentID)
	if err != nil {
		return nil, err
	}

	view, err := s.gate.teamView(ctx, tx, teamID, tournament)
	if err != nil {
		return nil, err
	}
	view.Promoted = change.Promoted
	return view, nil
}
