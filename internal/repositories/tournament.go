package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"arena-registration/internal/models"
)

const tournamentColumns = `id, name, max_players, players_per_team, coaches_per_team`

// GetTournament retrieves a tournament by ID
func (r *pgTx) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	return r.getTournament(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id)
}

// LockTournament retrieves a tournament and holds its row lock until commit.
// Every capacity decision for the tournament goes through this lock.
func (r *pgTx) LockTournament(ctx context.Context, id string) (*models.Tournament, error) {
	return r.getTournament(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgTx) getTournament(ctx context.Context, query, id string) (*models.Tournament, error) {
	tournament := &models.Tournament{}
	err := r.tx.QueryRowContext(ctx, query, id).Scan(
		&tournament.ID,
		&tournament.Name,
		&tournament.MaxPlayers,
		&tournament.PlayersPerTeam,
		&tournament.CoachesPerTeam,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}

	return tournament, nil
}
