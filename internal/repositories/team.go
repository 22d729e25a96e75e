package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"arena-registration/internal/models"
)

const teamColumns = `id, name, tournament_id, captain_id, locked_at, entered_queue_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTeam(row rowScanner, team *models.Team) error {
	return row.Scan(
		&team.ID,
		&team.Name,
		&team.TournamentID,
		&team.CaptainID,
		&team.LockedAt,
		&team.EnteredQueueAt,
		&team.CreatedAt,
	)
}

// InsertTeam creates a team
func (r *pgTx) InsertTeam(ctx context.Context, team *models.Team) error {
	query := `
		INSERT INTO teams (id, name, tournament_id, captain_id, locked_at, entered_queue_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.tx.ExecContext(ctx, query,
		team.ID,
		team.Name,
		team.TournamentID,
		team.CaptainID,
		team.LockedAt,
		team.EnteredQueueAt,
		team.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}

	return nil
}

// GetTeam retrieves a team by ID
func (r *pgTx) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`

	team := &models.Team{}
	if err := scanTeam(r.tx.QueryRowContext(ctx, query, id), team); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	return team, nil
}

// UpdateTeam persists captain and capacity state of a team
func (r *pgTx) UpdateTeam(ctx context.Context, team *models.Team) error {
	query := `
		UPDATE teams
		SET captain_id = $2, locked_at = $3, entered_queue_at = $4
		WHERE id = $1`

	result, err := r.tx.ExecContext(ctx, query, team.ID, team.CaptainID, team.LockedAt, team.EnteredQueueAt)
	if err != nil {
		return fmt.Errorf("failed to update team: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("team with id %s not found", team.ID)
	}

	return nil
}

// DeleteTeam removes a team; members are detached by the foreign key
func (r *pgTx) DeleteTeam(ctx context.Context, id string) error {
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	return nil
}

// ListTeams returns every team of a tournament
func (r *pgTx) ListTeams(ctx context.Context, tournamentID string) ([]models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE tournament_id = $1 ORDER BY created_at, id`
	return r.listTeams(ctx, query, tournamentID)
}

// ListQueuedTeams returns the waiting queue of a tournament in arrival order
func (r *pgTx) ListQueuedTeams(ctx context.Context, tournamentID string) ([]models.Team, error) {
	query := `SELECT ` + teamColumns + `
		FROM teams
		WHERE tournament_id = $1 AND locked_at IS NULL AND entered_queue_at IS NOT NULL
		ORDER BY entered_queue_at, id`
	return r.listTeams(ctx, query, tournamentID)
}

func (r *pgTx) listTeams(ctx context.Context, query string, tournamentID string) ([]models.Team, error) {
	rows, err := r.tx.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		var team models.Team
		if err := scanTeam(rows, &team); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}

	return teams, rows.Err()
}

// CountLockedTeams returns how many teams hold a slot in a tournament
func (r *pgTx) CountLockedTeams(ctx context.Context, tournamentID string) (int, error) {
	var count int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams WHERE tournament_id = $1 AND locked_at IS NOT NULL`,
		tournamentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locked teams: %w", err)
	}
	return count, nil
}
