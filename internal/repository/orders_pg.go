package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livekitchen/internal/domain"
)

type OrdersPG struct {
	db *pgxpool.Pool
}

func NewOrdersPG(db *pgxpool.Pool) *OrdersPG { return &OrdersPG{db: db} }

func (r *OrdersPG) CreateWithPayment(ctx context.Context, o domain.Order, p domain.PaymentRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, restaurant_id, table_number, price_total, currency, status, placed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, o.ID, o.CustomerID, o.RestaurantID, o.TableNumber, o.PriceTotal, o.Currency, string(o.Status), o.PlacedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, item_id, name, price)
			VALUES ($1,$2,$3,$4)
		`, o.ID, item.ItemID, item.Name, item.Price); err != nil {
			return fmt.Errorf("insert order item %s: %w", item.Name, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (order_id, amount, currency, source_token, destination_account, paid)
		VALUES ($1,$2,$3,$4,$5,false)
	`, p.OrderID, p.Amount, p.Currency, p.SourceToken, p.DestinationAccount); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at)
		VALUES ($1,$2,'server',now())
	`, o.ID, string(o.Status)); err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *OrdersPG) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	var o domain.Order
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT id, customer_id, restaurant_id, table_number, price_total, currency, status, placed_at
		FROM orders WHERE id=$1
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.TableNumber, &o.PriceTotal, &o.Currency, &status, &o.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	o.Status = domain.Status(status)

	items, err := r.itemsFor(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items
	return o, nil
}

func (r *OrdersPG) UpdateStatusCAS(ctx context.Context, orderID string, from []domain.Status, to domain.Status, changedBy string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, string(s))
	}

	var id string
	err = tx.QueryRow(ctx, `
		UPDATE orders SET status=$2 WHERE id=$1 AND status = ANY($3)
		RETURNING id
	`, orderID, string(to), fromStrs).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or unknown order; tell them apart for the caller.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
			return false, fmt.Errorf("check order existence: %w", err)
		}
		if !exists {
			return false, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at)
		VALUES ($1,$2,$3,now())
	`, orderID, string(to), changedBy); err != nil {
		return false, fmt.Errorf("insert status log: %w", err)
	}
	return true, tx.Commit(ctx)
}

func (r *OrdersPG) LiveOrdersForRestaurant(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	visible := make([]string, 0, 4)
	for _, s := range domain.AllStatuses() {
		if s.KitchenVisible() {
			visible = append(visible, string(s))
		}
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, customer_id, restaurant_id, table_number, price_total, currency, status, placed_at
		FROM orders WHERE restaurant_id=$1 AND status = ANY($2)
		ORDER BY placed_at ASC
	`, restaurantID, visible)
	if err != nil {
		return nil, fmt.Errorf("live orders query: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var status string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.TableNumber, &o.PriceTotal, &o.Currency, &status, &o.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan live order: %w", err)
		}
		o.Status = domain.Status(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("live orders rows: %w", err)
	}

	for i := range out {
		items, err := r.itemsFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (r *OrdersPG) itemsFor(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT item_id, name, price FROM order_items WHERE order_id=$1 ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("items query: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Price); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
