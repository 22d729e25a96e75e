package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"arena-registration/internal/models"
)

const userColumns = `id, username, email, type, team_id`

// GetUser retrieves a user by ID
func (r *pgTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// LockUser retrieves a user and holds its row lock until commit. Every
// change of a user's team goes through this lock.
func (r *pgTx) LockUser(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgTx) getUser(ctx context.Context, query, id string) (*models.User, error) {
	user := &models.User{}
	err := r.tx.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Type,
		&user.TeamID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ListTeamMembers returns every user of a team
func (r *pgTx) ListTeamMembers(ctx context.Context, teamID string) ([]models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE team_id = $1
		ORDER BY id`

	rows, err := r.tx.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	var members []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Type, &user.TeamID); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, user)
	}

	return members, rows.Err()
}

// SetUserTeam moves a user in or out of a team and records the type they play as
func (r *pgTx) SetUserTeam(ctx context.Context, userID string, teamID *string, userType *models.UserType) error {
	query := `UPDATE users SET team_id = $2, type = COALESCE($3::varchar, type) WHERE id = $1`

	result, err := r.tx.ExecContext(ctx, query, userID, teamID, userType)
	if err != nil {
		return fmt.Errorf("failed to update user team: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user with id %s not found", userID)
	}

	return nil
}

// HasPaidTicket reports whether a paid cart holds a ticket for the user
func (r *pgTx) HasPaidTicket(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM cart_items ci
			JOIN carts c ON c.id = ci.cart_id
			JOIN items i ON i.id = ci.item_id
			WHERE ci.for_user_id = $1
			  AND c.transaction_state = $2
			  AND i.category = $3
		)`

	var paid bool
	err := r.tx.QueryRowContext(ctx, query, userID, models.TransactionPaid, models.ItemCategoryTicket).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("failed to check ticket payment: %w", err)
	}

	return paid, nil
}
