package store

import (
	"context"
	"database/sql"
	"fmt"

	"payment-reconciler/internal/models"

	"github.com/jmoiron/sqlx"
)

// LoadOrderWithItems retrieves an order and its line items.
func (s *Store) LoadOrderWithItems(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, nil, err
	}

	return &order, items, nil
}

// DecrementStockAndMarkPaid performs the order payment transition as a
// single atomic unit: lock the order, verify every line item's stock
// before mutating any, decrement stock, mark the order paid, and delete
// the owning user's cart. Any failure rolls back the whole transition and
// leaves the order pending for manual reconciliation.
func (s *Store) DecrementStockAndMarkPaid(ctx context.Context, orderID int64, paymentIntentID string) (*models.Order, []models.OrderItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status != models.OrderStatusPending {
		return nil, nil, fmt.Errorf("order %d has status %s: %w",
			orderID, order.Status, ErrOrderNotPending)
	}

	var items []models.OrderItem
	err = tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load order items: %w", err)
	}

	stock, err := lockProductStock(ctx, tx, items)
	if err != nil {
		return nil, nil, err
	}

	if productID, short := firstShortfall(items, stock); short {
		return nil, nil, fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1 WHERE id = $2",
			item.Quantity, item.ProductID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrement stock for product %d: %w",
				item.ProductID, err)
		}
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $2, payment_intent_id = COALESCE(payment_intent_id, $3), updated_at = NOW()
		WHERE id = $1
		RETURNING *`,
		orderID, models.OrderStatusPaid, paymentIntentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	// Delete the cart in the same transaction so a crash cannot leave a
	// paid order with a stale cart.
	if order.UserID != nil {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM cart_items
			WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`,
			*order.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to delete cart items: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"DELETE FROM carts WHERE user_id = $1", *order.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to delete cart: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit payment transition: %w", err)
	}

	return &order, items, nil
}

// lockProductStock locks the product rows for all line items in ascending
// id order (a stable lock order avoids deadlocks between concurrent
// reconciliations sharing products) and returns current stock by product.
func lockProductStock(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem) (map[int64]int, error) {
	stock := make(map[int64]int, len(items))
	if len(items) == 0 {
		return stock, nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	query, args, err := sqlx.In(
		"SELECT id, stock FROM products WHERE id IN (?) ORDER BY id FOR UPDATE", ids)
	if err != nil {
		return nil, err
	}
	query = tx.Rebind(query)

	rows := []struct {
		ID    int64 `db:"id"`
		Stock int   `db:"stock"`
	}{}
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to lock product stock: %w", err)
	}

	for _, r := range rows {
		stock[r.ID] = r.Stock
	}
	return stock, nil
}

// firstShortfall checks every line item against available stock before any
// mutation happens, accumulating quantities when the same product appears
// on multiple lines. It returns the first product that would go negative.
// A product with no stock row counts as a shortfall.
func firstShortfall(items []models.OrderItem, stock map[int64]int) (int64, bool) {
	required := make(map[int64]int, len(items))
	for _, item := range items {
		required[item.ProductID] += item.Quantity

		available, ok := stock[item.ProductID]
		if !ok || required[item.ProductID] > available {
			return item.ProductID, true
		}
	}
	return 0, false
}
