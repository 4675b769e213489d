// Package hub owns the connection lifecycle: handshake, inbound event
// dispatch and disconnect cleanup.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"livekitchen/internal/auth"
	"livekitchen/internal/broadcast"
	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/lifecycle"
	"livekitchen/internal/registry"
	"livekitchen/internal/tables"
)

// TableContext is the optional table hint a diner handshake may carry; it
// is applied as an implicit join at connect time.
type TableContext struct {
	RestaurantID string `json:"restaurant_id"`
	TableNumber  int    `json:"table_number"`
}

type Hub struct {
	reg      *registry.Registry
	tables   *tables.Tracker
	orders   *lifecycle.Service
	bc       *broadcast.Broadcaster
	verifier *auth.Verifier
	validate *validator.Validate
	lg       *logger.Logger
}

func New(reg *registry.Registry, tracker *tables.Tracker, orders *lifecycle.Service,
	bc *broadcast.Broadcaster, verifier *auth.Verifier, lg *logger.Logger) *Hub {
	return &Hub{
		reg:      reg,
		tables:   tracker,
		orders:   orders,
		bc:       bc,
		verifier: verifier,
		validate: validator.New(),
		lg:       lg,
	}
}

// Connect performs the handshake. A bad token or a role outside
// {diner, restaurateur} closes the transport before anything is registered.
// Diners with table context are joined to their table; restaurateurs get
// the live-orders replay pushed onto their new connection.
func (h *Hub) Connect(ctx context.Context, tr Transport, token string, table *TableContext) (*Session, error) {
	identity, err := h.verifier.Verify(token)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if !identity.Role.Valid() {
		_ = tr.Close()
		return nil, fmt.Errorf("handshake: %w: role %q", domain.ErrValidation, identity.Role)
	}

	connID := uuid.NewString()
	if err := h.reg.Register(ctx, connID, identity); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	sess := newSession(connID, identity, tr, h.lg)
	h.bc.Attach(connID, sess)
	go sess.run()

	h.lg.Info("connection_opened", map[string]any{
		"connection_id": connID, "user_id": identity.UserID, "role": identity.Role,
	})

	switch identity.Role {
	case domain.RoleDiner:
		if table != nil {
			if err := h.tables.Join(ctx, identity.UserID, table.RestaurantID, table.TableNumber); err != nil {
				h.lg.Error("implicit_join_failed", err, map[string]any{
					"connection_id": connID, "customer_id": identity.UserID,
				})
			}
		}
	case domain.RoleRestaurateur:
		h.replayLiveOrders(ctx, sess)
	}
	return sess, nil
}

// replayLiveOrders pushes every kitchen-visible order onto a freshly
// connected restaurant socket, so a kitchen that was offline when orders
// arrived still sees them.
func (h *Hub) replayLiveOrders(ctx context.Context, sess *Session) {
	orders, err := h.orders.LiveOrders(ctx, sess.Identity.UserID)
	if err != nil {
		h.lg.Error("replay_failed", err, map[string]any{
			"connection_id": sess.ID, "restaurant_id": sess.Identity.UserID,
		})
		return
	}
	for _, o := range orders {
		if err := sess.Send(domain.OutboundEvent{
			Name:    domain.EventNewOrder,
			Payload: domain.NewOrderNotice{Order: o},
		}); err != nil {
			h.lg.Warn("replay_delivery_skipped", map[string]any{"connection_id": sess.ID})
			return
		}
	}
	h.lg.Debug("live_orders_replayed", map[string]any{
		"connection_id": sess.ID, "count": len(orders),
	})
}

// Disconnect tears a session down. When a diner's last connection drops,
// their table occupancy goes with it.
func (h *Hub) Disconnect(ctx context.Context, sess *Session) {
	h.bc.Detach(sess.ID)
	identity, remaining, ok := h.reg.Unregister(ctx, sess.ID)
	sess.close()
	if !ok {
		return
	}

	h.lg.Info("connection_closed", map[string]any{
		"connection_id": sess.ID, "user_id": identity.UserID, "remaining": remaining,
	})

	if identity.Role == domain.RoleDiner && remaining == 0 {
		h.tables.OnDisconnect(ctx, identity.UserID)
	}
}

// HandleEvent decodes, validates and dispatches one inbound event. Each
// event runs as its own task; there is no cross-event ordering guarantee.
func (h *Hub) HandleEvent(ctx context.Context, sess *Session, name string, payload []byte) {
	ev, err := domain.DecodeInbound(name, payload)
	if err != nil {
		h.lg.Warn("event_dropped", map[string]any{
			"connection_id": sess.ID, "event": name, "reason": err.Error(),
		})
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		h.lg.Warn("event_dropped", map[string]any{
			"connection_id": sess.ID, "event": name, "reason": err.Error(),
		})
		return
	}
	go h.dispatch(ctx, sess, name, ev)
}

// dispatch is the single switch over the closed inbound event set.
func (h *Hub) dispatch(ctx context.Context, sess *Session, name string, ev domain.InboundEvent) {
	var err error
	switch e := ev.(type) {
	case *domain.NewOrder:
		if err = h.requireRole(sess, domain.RoleDiner); err == nil {
			_, err = h.orders.Submit(ctx, sess.Identity.UserID, *e, sess.ID)
		}
	case *domain.OrderStatusUpdate:
		if err = h.requireOwnOrder(sess, e.Order); err == nil {
			err = h.orders.UpdateStatus(ctx, e.Order)
		}
	case *domain.RestaurantAcceptedOrder:
		if err = h.requireOwnOrder(sess, e.Order); err == nil {
			err = h.orders.Accept(ctx, e.Order)
		}
	case *domain.ProcessRefund:
		if err = h.requireOwnOrder(sess, e.Order); err == nil {
			err = h.orders.Refund(ctx, e.Order)
		}
	case *domain.UserJoinedTable:
		if err = h.requireRole(sess, domain.RoleDiner); err == nil {
			err = h.tables.Join(ctx, sess.Identity.UserID, e.Table.RestaurantID, e.Table.TableNo)
		}
	case *domain.UserLeftTable:
		if err = h.requireRole(sess, domain.RoleDiner); err == nil {
			err = h.tables.Leave(ctx, sess.Identity.UserID)
		}
	default:
		err = fmt.Errorf("%w: unhandled event type %T", domain.ErrValidation, ev)
	}

	if err == nil {
		return
	}

	// All errors are terminal per-event: logged with correlation context,
	// never propagated to a synchronous caller.
	fields := map[string]any{
		"connection_id": sess.ID, "user_id": sess.Identity.UserID, "event": name,
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.lg.Warn("event_target_missing", fields)
	case errors.Is(err, domain.ErrPrecondition):
		h.lg.Warn("event_precondition_failed", fields)
	case errors.Is(err, domain.ErrValidation):
		h.lg.Warn("event_dropped", fields)
	default:
		h.lg.Error("event_failed", err, fields)
	}
}

func (h *Hub) requireRole(sess *Session, role domain.Role) error {
	if sess.Identity.Role != role {
		return fmt.Errorf("%w: event requires role %s", domain.ErrValidation, role)
	}
	return nil
}

// requireOwnOrder gates the kitchen-side order events: the sender must be a
// restaurateur and the order metadata must name their own restaurant, so one
// kitchen cannot accept (and so charge) another kitchen's order.
func (h *Hub) requireOwnOrder(sess *Session, meta domain.OrderMeta) error {
	if err := h.requireRole(sess, domain.RoleRestaurateur); err != nil {
		return err
	}
	if meta.RestaurantID != sess.Identity.UserID {
		return fmt.Errorf("%w: order belongs to restaurant %s", domain.ErrValidation, meta.RestaurantID)
	}
	return nil
}
