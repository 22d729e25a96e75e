package services

import (
	"context"
	"fmt"

	"arena-registration/internal/models"
	"arena-registration/internal/repositories"
)

// Readiness is the evaluation of a team roster against its tournament
type Readiness struct {
	Ready   bool     `json:"ready"`
	Players int      `json:"players"`
	Coaches int      `json:"coaches"`
	Unpaid  []string `json:"unpaid,omitempty"`
	// Reason is set when the team is not ready
	Reason models.ErrorKind `json:"reason,omitempty"`
}

// Err returns the business error explaining why the team is not ready
func (r *Readiness) Err() error {
	switch r.Reason {
	case "":
		return nil
	case models.ErrTeamNotPaid:
		return models.NewError(models.ErrTeamNotPaid, "members have not paid: %v", r.Unpaid)
	default:
		return models.NewError(r.Reason, "team has %d players and %d coaches", r.Players, r.Coaches)
	}
}

// EvaluateReadiness reports whether a team is complete and fully paid.
// Players must match playersPerTeam exactly; coaches are optional up to
// coachesPerTeam, but every coach who is present must have paid.
func EvaluateReadiness(ctx context.Context, tx repositories.Tx, team *models.Team, tournament *models.Tournament) (*Readiness, error) {
	members, err := tx.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of team %s: %w", team.ID, err)
	}

	r := &Readiness{}
	for _, member := range members {
		switch {
		case member.IsPlayer():
			r.Players++
		case member.IsCoach():
			r.Coaches++
		default:
			continue
		}

		paid, err := tx.HasPaidTicket(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if !paid {
			r.Unpaid = append(r.Unpaid, member.ID)
		}
	}

	switch {
	case r.Players > tournament.PlayersPerTeam || r.Coaches > tournament.CoachesPerTeam:
		r.Reason = models.ErrTeamFull
	case r.Players < tournament.PlayersPerTeam:
		r.Reason = models.ErrTeamNotFull
	case len(r.Unpaid) > 0:
		r.Reason = models.ErrTeamNotPaid
	default:
		r.Ready = true
	}

	return r, nil
}
