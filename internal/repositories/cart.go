package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arena-registration/internal/models"
)

const cartColumns = `id, user_id, transaction_state, transaction_id, paid_at, created_at, updated_at`

// InsertCart creates a cart and its snapshotted items
func (r *pgTx) InsertCart(ctx context.Context, cart *models.Cart) error {
	query := `
		INSERT INTO carts (id, user_id, transaction_state, transaction_id, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.tx.ExecContext(ctx, query,
		cart.ID,
		cart.UserID,
		cart.State,
		cart.TransactionID,
		cart.PaidAt,
		cart.CreatedAt,
		cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}

	itemQuery := `
		INSERT INTO cart_items (id, cart_id, item_id, quantity, price, for_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, item := range cart.Items {
		if _, err := r.tx.ExecContext(ctx, itemQuery,
			item.ID,
			cart.ID,
			item.ItemID,
			item.Quantity,
			item.Price,
			item.ForUserID,
		); err != nil {
			return fmt.Errorf("failed to create cart item: %w", err)
		}
	}

	return nil
}

// GetCart retrieves a cart with its items
func (r *pgTx) GetCart(ctx context.Context, id string) (*models.Cart, error) {
	return r.getCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
}

// GetCartForUpdate retrieves a cart and locks its row
func (r *pgTx) GetCartForUpdate(ctx context.Context, id string) (*models.Cart, error) {
	return r.getCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, id)
}

// GetCartByTransactionID retrieves a cart by its provider transaction ID and locks its row
func (r *pgTx) GetCartByTransactionID(ctx context.Context, transactionID string) (*models.Cart, error) {
	return r.getCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE transaction_id = $1 FOR UPDATE`, transactionID)
}

func (r *pgTx) getCart(ctx context.Context, query string, arg string) (*models.Cart, error) {
	cart := &models.Cart{}
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.State,
		&cart.TransactionID,
		&cart.PaidAt,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items, err := r.getCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items

	return cart, nil
}

func (r *pgTx) getCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	query := `
		SELECT id, cart_id, item_id, quantity, price, for_user_id
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY id`

	rows, err := r.tx.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ItemID, &item.Quantity, &item.Price, &item.ForUserID); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// UpdateCartState persists the state, transaction id and paid timestamp of a cart
func (r *pgTx) UpdateCartState(ctx context.Context, cart *models.Cart) error {
	query := `
		UPDATE carts
		SET transaction_state = $2, transaction_id = $3, paid_at = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.tx.ExecContext(ctx, query, cart.ID, cart.State, cart.TransactionID, cart.PaidAt, cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update cart state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("cart with id %s not found", cart.ID)
	}

	return nil
}

// ListCartsByState returns carts in a state created before a cutoff, oldest first
func (r *pgTx) ListCartsByState(ctx context.Context, state models.TransactionState, createdBefore time.Time) ([]models.Cart, error) {
	query := `SELECT ` + cartColumns + `
		FROM carts
		WHERE transaction_state = $1 AND created_at < $2
		ORDER BY created_at`

	rows, err := r.tx.QueryContext(ctx, query, state, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list carts: %w", err)
	}
	defer rows.Close()

	var carts []models.Cart
	for rows.Next() {
		var cart models.Cart
		if err := rows.Scan(
			&cart.ID,
			&cart.UserID,
			&cart.State,
			&cart.TransactionID,
			&cart.PaidAt,
			&cart.CreatedAt,
			&cart.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		carts = append(carts, cart)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return carts, nil
}
