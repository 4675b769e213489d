// Package tables tracks which table a diner currently occupies and tells
// the owning restaurant when that changes.
package tables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livekitchen/internal/broadcast"
	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/registry"
	"livekitchen/internal/repository"
)

type Tracker struct {
	occ repository.Occupancy
	reg *registry.Registry
	bc  *broadcast.Broadcaster
	lg  *logger.Logger
}

func New(occ repository.Occupancy, reg *registry.Registry, bc *broadcast.Broadcaster, lg *logger.Logger) *Tracker {
	return &Tracker{occ: occ, reg: reg, bc: bc, lg: lg}
}

// Join upserts the customer's occupancy. A second join for the same
// customer overwrites the first (a diner re-entering a wrong table number);
// last write wins, no lock is taken. The restaurant's live connections get
// a userJoinedTable event.
func (t *Tracker) Join(ctx context.Context, customerID, restaurantID string, tableNumber int) error {
	occ := domain.TableOccupancy{
		CustomerID:   customerID,
		RestaurantID: restaurantID,
		TableNumber:  tableNumber,
		JoinedAt:     time.Now().UTC(),
	}
	if err := t.occ.Upsert(ctx, occ); err != nil {
		// Fail closed: nothing is broadcast on top of an unpersisted change.
		return fmt.Errorf("join table: %w", err)
	}

	t.bc.Emit(ctx, domain.OutboundEvent{
		Name: domain.EventUserJoinedTable,
		Payload: domain.TablePresence{
			RestaurantID: restaurantID,
			CustomerID:   customerID,
			TableNo:      tableNumber,
		},
	}, t.reg.ConnectionsFor(restaurantID), "", false)

	t.lg.Debug("table_joined", map[string]any{
		"customer_id": customerID, "restaurant_id": restaurantID, "table_no": tableNumber,
	})
	return nil
}

// Leave removes the customer's occupancy, if any, and notifies the owning
// restaurant. A missing row returns domain.ErrNotFound; callers log it and
// move on, it is never surfaced to the diner.
func (t *Tracker) Leave(ctx context.Context, customerID string) error {
	occ, err := t.occ.Get(ctx, customerID)
	if err != nil {
		return fmt.Errorf("leave table: %w", err)
	}

	removed, err := t.occ.Delete(ctx, customerID)
	if err != nil {
		return fmt.Errorf("leave table: %w", err)
	}
	if !removed {
		// Raced with another leave; the occupancy is gone either way.
		return fmt.Errorf("occupancy for %s: %w", customerID, domain.ErrNotFound)
	}

	t.bc.Emit(ctx, domain.OutboundEvent{
		Name: domain.EventUserLeftTable,
		Payload: domain.TablePresence{
			RestaurantID: occ.RestaurantID,
			CustomerID:   customerID,
			TableNo:      occ.TableNumber,
		},
	}, t.reg.ConnectionsFor(occ.RestaurantID), "", false)

	t.lg.Debug("table_left", map[string]any{
		"customer_id": customerID, "restaurant_id": occ.RestaurantID,
	})
	return nil
}

// OnDisconnect runs when a diner's last connection drops: with zero live
// connections they cannot reasonably be considered at the table.
func (t *Tracker) OnDisconnect(ctx context.Context, customerID string) {
	if err := t.Leave(ctx, customerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			t.lg.Debug("disconnect_without_table", map[string]any{"customer_id": customerID})
			return
		}
		t.lg.Error("disconnect_leave_failed", err, map[string]any{"customer_id": customerID})
	}
}
