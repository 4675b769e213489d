// Package repository is the single canonical persistence interface per
// entity; every collaborator consumes these interfaces, never raw SQL.
package repository

import (
	"context"

	"livekitchen/internal/domain"
)

type Orders interface {
	// CreateWithPayment persists the order, its items and the payment
	// pre-authorization atomically.
	CreateWithPayment(ctx context.Context, o domain.Order, p domain.PaymentRecord) error
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatusCAS applies a status transition only when the current
	// status is one of from. Returns false (no error) when the order exists
	// but lost the race; domain.ErrNotFound when it does not exist.
	UpdateStatusCAS(ctx context.Context, orderID string, from []domain.Status, to domain.Status, changedBy string) (bool, error)
	// LiveOrdersForRestaurant is the replay query: all kitchen-visible
	// orders with their items.
	LiveOrdersForRestaurant(ctx context.Context, restaurantID string) ([]domain.Order, error)
}

type Payments interface {
	GetByOrderID(ctx context.Context, orderID string) (domain.PaymentRecord, error)
	// MarkCaptured records the charge id and flips paid. Guarded so a
	// second capture attempt cannot overwrite an existing charge.
	MarkCaptured(ctx context.Context, orderID, chargeID string) error
	MarkRefunded(ctx context.Context, orderID, refundID string) error
}

type Occupancy interface {
	// Upsert overwrites any previous occupancy for the customer
	// (last-write-wins, single row per customer).
	Upsert(ctx context.Context, occ domain.TableOccupancy) error
	Get(ctx context.Context, customerID string) (domain.TableOccupancy, error)
	// Delete reports whether a row was actually removed.
	Delete(ctx context.Context, customerID string) (bool, error)
}

// Presence persists the set of live connections so "who is online" can be
// rebuilt after a crash.
type Presence interface {
	Add(ctx context.Context, connectionID string, id domain.Identity) error
	Remove(ctx context.Context, connectionID string) error
	All(ctx context.Context) (map[string]domain.Identity, error)
}
