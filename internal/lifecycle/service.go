// Package lifecycle drives an order from creation through kitchen
// acceptance, payment capture and refund, broadcasting every transition to
// the connected parties.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"livekitchen/internal/broadcast"
	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/payments"
	"livekitchen/internal/registry"
	"livekitchen/internal/repository"
)

const (
	changedByServer  = "server"
	changedByGateway = "payment-gateway"

	replayTTL = 15 * time.Second
)

type Service struct {
	orders  repository.Orders
	payRepo repository.Payments
	orch    *payments.Orchestrator
	reg     *registry.Registry
	bc      *broadcast.Broadcaster
	replay  *gocache.Cache // restaurant id -> []domain.Order
	lg      *logger.Logger
}

func New(orders repository.Orders, payRepo repository.Payments, orch *payments.Orchestrator,
	reg *registry.Registry, bc *broadcast.Broadcaster, lg *logger.Logger) *Service {
	return &Service{
		orders:  orders,
		payRepo: payRepo,
		orch:    orch,
		reg:     reg,
		bc:      bc,
		replay:  gocache.New(replayTTL, time.Minute),
		lg:      lg,
	}
}

// Submit persists a new order plus its payment pre-authorization, echoes
// the initial status to the submitting connection, advances to
// sent_to_kitchen and broadcasts the order to the restaurant. A restaurant
// with zero live connections still gets a durably stored order; it shows up
// in the reconnect replay.
func (s *Service) Submit(ctx context.Context, customerID string, ev domain.NewOrder, origin string) (string, error) {
	var total int64
	for _, item := range ev.Items {
		if item.Price <= 0 {
			return "", fmt.Errorf("%w: item %s has non-positive price", domain.ErrValidation, item.Name)
		}
		total += item.Price
	}
	if len(ev.Items) == 0 {
		return "", fmt.Errorf("%w: order has no items", domain.ErrValidation)
	}

	order := domain.Order{
		ID:           uuid.NewString(),
		CustomerID:   customerID,
		RestaurantID: ev.RestaurantID,
		TableNumber:  ev.TableNumber,
		PriceTotal:   total,
		Currency:     ev.Currency,
		Status:       domain.StatusReceivedByServer,
		PlacedAt:     time.Now().UTC(),
		Items:        ev.Items,
	}
	payment := domain.PaymentRecord{
		OrderID:            order.ID,
		Amount:             total,
		Currency:           ev.Currency,
		SourceToken:        ev.Payment.SourceToken,
		DestinationAccount: ev.Payment.DestinationAccount,
	}

	if err := s.orders.CreateWithPayment(ctx, order, payment); err != nil {
		// Fail closed: no broadcast on top of an unpersisted order.
		return "", fmt.Errorf("submit order: %w", err)
	}

	s.emitStatus(ctx, order.ID, domain.StatusReceivedByServer, "", nil, origin, true)

	if _, err := s.orders.UpdateStatusCAS(ctx, order.ID,
		[]domain.Status{domain.StatusReceivedByServer}, domain.StatusSentToKitchen, changedByServer); err != nil {
		return order.ID, fmt.Errorf("advance order %s: %w", order.ID, err)
	}
	order.Status = domain.StatusSentToKitchen
	s.invalidateReplay(order.RestaurantID)

	recipients := s.reg.ConnectionsFor(order.RestaurantID)
	if len(recipients) == 0 {
		s.lg.Warn("unreachable_recipient", map[string]any{
			"order_id": order.ID, "restaurant_id": order.RestaurantID,
		})
	}
	s.bc.Emit(ctx, domain.OutboundEvent{
		Name:    domain.EventNewOrder,
		Payload: domain.NewOrderNotice{Order: order},
	}, recipients, "", false)

	s.emitStatus(ctx, order.ID, domain.StatusSentToKitchen, "", nil, origin, true)

	s.lg.Info("order_submitted", map[string]any{
		"order_id": order.ID, "customer_id": customerID,
		"restaurant_id": order.RestaurantID, "price_total": total,
	})
	return order.ID, nil
}

// UpdateStatus handles the intermediate, non-payment transitions the
// kitchen reports. Payment statuses can only be reached through Accept and
// Refund.
func (s *Service) UpdateStatus(ctx context.Context, meta domain.OrderMeta) error {
	var from []domain.Status
	switch meta.Status {
	case domain.StatusReceivedByKitchen:
		from = []domain.Status{domain.StatusSentToKitchen}
	case domain.StatusRejectedByKitchen:
		from = []domain.Status{domain.StatusSentToKitchen, domain.StatusReceivedByKitchen}
	default:
		return fmt.Errorf("%w: status %q is not an updatable status", domain.ErrValidation, meta.Status)
	}

	applied, err := s.orders.UpdateStatusCAS(ctx, meta.OrderID, from, meta.Status, meta.RestaurantID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !applied {
		// A legitimate race outcome, not a crash.
		s.lg.Debug("stale_status_update", map[string]any{
			"order_id": meta.OrderID, "status": meta.Status,
		})
		return nil
	}

	s.invalidateReplay(meta.RestaurantID)
	s.emitStatus(ctx, meta.OrderID, meta.Status, "",
		s.reg.ConnectionsForBoth(meta.RestaurantID, meta.CustomerID), "", false)
	return nil
}

// Accept moves the order to accepted_by_kitchen and captures payment. The
// status CAS doubles as the idempotency guard: a duplicate accept event
// loses the CAS and never reaches the gateway, so an order can only be
// charged once.
func (s *Service) Accept(ctx context.Context, meta domain.OrderMeta) error {
	applied, err := s.orders.UpdateStatusCAS(ctx, meta.OrderID,
		[]domain.Status{domain.StatusSentToKitchen, domain.StatusReceivedByKitchen},
		domain.StatusAcceptedByKitchen, meta.RestaurantID)
	if err != nil {
		return fmt.Errorf("accept order: %w", err)
	}
	if !applied {
		s.lg.Info("duplicate_accept_ignored", map[string]any{"order_id": meta.OrderID})
		return nil
	}

	s.invalidateReplay(meta.RestaurantID)
	both := s.reg.ConnectionsForBoth(meta.RestaurantID, meta.CustomerID)
	s.emitStatus(ctx, meta.OrderID, domain.StatusAcceptedByKitchen, "", both, "", false)

	rec, err := s.payRepo.GetByOrderID(ctx, meta.OrderID)
	if err != nil {
		return fmt.Errorf("accept order %s: %w", meta.OrderID, err)
	}

	chargeID, err := s.orch.Capture(ctx, rec)
	if err != nil {
		if errors.Is(err, payments.ErrUnrecorded) {
			// The card was charged but the capture row was not written. A
			// payment_failed here would lie to the diner, so the order stays
			// accepted_by_kitchen until the books are reconciled.
			return fmt.Errorf("accept order %s: %w", meta.OrderID, err)
		}
		cls := payments.Classify(err)
		s.lg.Error("capture_failed", err, map[string]any{
			"order_id": meta.OrderID, "user_facing": cls.UserFacing,
		})
		if _, cerr := s.orders.UpdateStatusCAS(ctx, meta.OrderID,
			[]domain.Status{domain.StatusAcceptedByKitchen}, domain.StatusPaymentFailed, changedByGateway); cerr != nil {
			return fmt.Errorf("mark payment failed for %s: %w", meta.OrderID, cerr)
		}
		s.invalidateReplay(meta.RestaurantID)
		s.emitStatus(ctx, meta.OrderID, domain.StatusPaymentFailed, cls.UserMessage, both, "", false)
		return nil
	}

	if _, err := s.orders.UpdateStatusCAS(ctx, meta.OrderID,
		[]domain.Status{domain.StatusAcceptedByKitchen}, domain.StatusPaymentSuccessful, changedByGateway); err != nil {
		return fmt.Errorf("mark payment successful for %s: %w", meta.OrderID, err)
	}
	s.invalidateReplay(meta.RestaurantID)
	s.emitStatus(ctx, meta.OrderID, domain.StatusPaymentSuccessful, "", both, "", false)

	s.lg.Info("payment_captured", map[string]any{
		"order_id": meta.OrderID, "charge_id": chargeID,
	})
	return nil
}

// Refund reverses the capture. The precondition (paid, not yet refunded) is
// checked before any gateway call; on gateway failure the order stays
// payment_successful and nothing is broadcast or retried.
func (s *Service) Refund(ctx context.Context, meta domain.OrderMeta) error {
	rec, err := s.payRepo.GetByOrderID(ctx, meta.OrderID)
	if err != nil {
		return fmt.Errorf("refund order: %w", err)
	}
	if !rec.Refundable() {
		return fmt.Errorf("order %s not refundable: %w", meta.OrderID, domain.ErrPrecondition)
	}

	refundID, err := s.orch.Refund(ctx, rec)
	if err != nil {
		s.lg.Error("refund_failed", err, map[string]any{"order_id": meta.OrderID})
		return fmt.Errorf("refund order %s: %w", meta.OrderID, err)
	}

	if _, err := s.orders.UpdateStatusCAS(ctx, meta.OrderID,
		[]domain.Status{domain.StatusPaymentSuccessful}, domain.StatusRefunded, meta.RestaurantID); err != nil {
		return fmt.Errorf("mark refunded for %s: %w", meta.OrderID, err)
	}
	s.invalidateReplay(meta.RestaurantID)
	s.emitStatus(ctx, meta.OrderID, domain.StatusRefunded, "",
		s.reg.ConnectionsForBoth(meta.RestaurantID, meta.CustomerID), "", false)

	s.lg.Info("payment_refunded", map[string]any{
		"order_id": meta.OrderID, "refund_id": refundID,
	})
	return nil
}

// LiveOrders is the replay query for a restaurant's kitchen view, cached
// briefly per restaurant and invalidated on every status change.
func (s *Service) LiveOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	if cached, ok := s.replay.Get(restaurantID); ok {
		return cached.([]domain.Order), nil
	}
	orders, err := s.orders.LiveOrdersForRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("live orders for %s: %w", restaurantID, err)
	}
	s.replay.SetDefault(restaurantID, orders)
	return orders, nil
}

func (s *Service) invalidateReplay(restaurantID string) {
	s.replay.Delete(restaurantID)
}

func (s *Service) emitStatus(ctx context.Context, orderID string, st domain.Status, msg string,
	recipients []string, origin string, echoToOrigin bool) {
	if msg == "" {
		msg = st.UserMessage()
	}
	s.bc.Emit(ctx, domain.OutboundEvent{
		Name:    domain.EventOrderStatusUpdated,
		Payload: domain.OrderStatusUpdated{OrderID: orderID, Status: st, UserMsg: msg},
	}, recipients, origin, echoToOrigin)
}
