// Package registry maps live connections to identities and back. It is the
// basis for addressing events to "all sockets of restaurant X" or "all
// sockets of diner Y".
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/repository"
)

type Registry struct {
	mu     sync.RWMutex
	conns  map[string]domain.Identity     // connection id -> identity
	byUser map[string]map[string]struct{} // user id -> set of connection ids

	presence repository.Presence
	lg       *logger.Logger
}

func New(presence repository.Presence, lg *logger.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]domain.Identity),
		byUser:   make(map[string]map[string]struct{}),
		presence: presence,
		lg:       lg,
	}
}

// Register binds a connection to its identity. The store write happens
// first so a crash never leaves a registered connection invisible to a
// rebuild. A role outside {diner, restaurateur} never reaches this point.
func (r *Registry) Register(ctx context.Context, connectionID string, id domain.Identity) error {
	if !id.Role.Valid() {
		return fmt.Errorf("%w: role %q", domain.ErrValidation, id.Role)
	}

	r.mu.Lock()
	if _, dup := r.conns[connectionID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrAlreadyRegistered)
	}
	r.mu.Unlock()

	if err := r.presence.Add(ctx, connectionID, id); err != nil {
		return fmt.Errorf("persist presence: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connectionID] = id
	if _, ok := r.byUser[id.UserID]; !ok {
		r.byUser[id.UserID] = make(map[string]struct{})
	}
	r.byUser[id.UserID][connectionID] = struct{}{}
	return nil
}

// Unregister is idempotent. It returns the identity that was bound and how
// many live connections remain for that user, so the caller can tell when a
// diner's last connection has dropped.
func (r *Registry) Unregister(ctx context.Context, connectionID string) (domain.Identity, int, bool) {
	r.mu.Lock()
	id, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
		if set, exists := r.byUser[id.UserID]; exists {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.byUser, id.UserID)
			}
		}
	}
	remaining := len(r.byUser[id.UserID])
	r.mu.Unlock()

	if err := r.presence.Remove(ctx, connectionID); err != nil {
		r.lg.Error("presence_remove_failed", err, map[string]any{"connection_id": connectionID})
	}
	return id, remaining, ok
}

// ConnectionsFor resolves a selector (a restaurant id or a customer id) to
// the set of live connection ids. An empty result is not an error.
func (r *Registry) ConnectionsFor(selectorID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byUser[selectorID]
	if !ok {
		return nil
	}
	return lo.Keys(set)
}

// ConnectionsForBoth is the union of both parties' connections, used when
// an event must reach both sides of an order.
func (r *Registry) ConnectionsForBoth(restaurantID, customerID string) []string {
	return lo.Uniq(append(r.ConnectionsFor(restaurantID), r.ConnectionsFor(customerID)...))
}

// IdentityOf returns the identity bound to a connection, if any.
func (r *Registry) IdentityOf(connectionID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connectionID]
	return id, ok
}

// Rebuild reloads the persisted presence rows after a restart. Transports
// behind the rows are gone; their events are simply skipped until the
// parties reconnect, at which point the rows are overwritten.
func (r *Registry) Rebuild(ctx context.Context) error {
	rows, err := r.presence.All(ctx)
	if err != nil {
		return fmt.Errorf("rebuild presence: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID, id := range rows {
		r.conns[connID] = id
		if _, ok := r.byUser[id.UserID]; !ok {
			r.byUser[id.UserID] = make(map[string]struct{})
		}
		r.byUser[id.UserID][connID] = struct{}{}
	}
	r.lg.Info("presence_rebuilt", map[string]any{"connections": len(rows)})
	return nil
}
