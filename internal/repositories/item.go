package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"arena-registration/internal/models"
)

const itemColumns = `id, name, category, price, stock`

// GetItem retrieves a catalog item by ID
func (r *pgTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
}

// LockItem retrieves an item and holds its row lock until commit. Stock
// checks for limited items go through this lock.
func (r *pgTx) LockItem(ctx context.Context, id string) (*models.Item, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgTx) getItem(ctx context.Context, query, id string) (*models.Item, error) {
	item := &models.Item{}
	err := r.tx.QueryRowContext(ctx, query, id).Scan(
		&item.ID,
		&item.Name,
		&item.Category,
		&item.Price,
		&item.Stock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// CountItemHeld sums quantities of an item across carts that still hold stock
func (r *pgTx) CountItemHeld(ctx context.Context, itemID string) (int, error) {
	query := `
		SELECT COALESCE(SUM(ci.quantity), 0)
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE ci.item_id = $1
		  AND c.transaction_state IN ($2, $3, $4)`

	var held int
	err := r.tx.QueryRowContext(ctx, query, itemID,
		models.TransactionPending, models.TransactionProcessing, models.TransactionPaid,
	).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("failed to count held items: %w", err)
	}

	return held, nil
}
