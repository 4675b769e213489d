package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/repository"
)

// ErrUnrecorded marks a gateway call that succeeded but whose outcome could
// not be persisted. Money moved; callers must not treat this as a payment
// failure — the order keeps its state and the books are reconciled from the
// logged charge/refund id.
var ErrUnrecorded = errors.New("gateway outcome not recorded")

// Orchestrator invokes the gateway at the correct lifecycle transitions and
// persists the outcome. It never retries on its own: retry policy belongs
// to the caller, which must account for at-most-once charge semantics.
type Orchestrator struct {
	gw       Gateway
	payments repository.Payments
	timeout  time.Duration
	lg       *logger.Logger
}

func NewOrchestrator(gw Gateway, payments repository.Payments, timeout time.Duration, lg *logger.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{gw: gw, payments: payments, timeout: timeout, lg: lg}
}

// Capture charges the diner's source and credits the restaurant, then
// persists charge_id and paid=true before returning. The gateway call is
// bounded so a hung gateway cannot block a lifecycle transition forever.
func (o *Orchestrator) Capture(ctx context.Context, rec domain.PaymentRecord) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	chargeID, err := o.gw.Charge(gctx, ChargeRequest{
		Amount:             rec.Amount,
		Currency:           rec.Currency,
		SourceToken:        rec.SourceToken,
		DestinationAccount: rec.DestinationAccount,
	})
	if err != nil {
		return "", fmt.Errorf("capture order %s: %w", rec.OrderID, err)
	}

	if err := o.payments.MarkCaptured(ctx, rec.OrderID, chargeID); err != nil {
		// The charge went through but we could not record it. Log the
		// charge id so the books can be reconciled by hand.
		o.lg.Error("capture_unrecorded", err, map[string]any{
			"order_id": rec.OrderID, "charge_id": chargeID,
		})
		return "", fmt.Errorf("record capture for order %s: %w: %w", rec.OrderID, ErrUnrecorded, err)
	}
	return chargeID, nil
}

// Refund reverses a captured charge and persists refund_id. Callers must
// have checked Refundable; the repository guard enforces it once more at
// the row level.
func (o *Orchestrator) Refund(ctx context.Context, rec domain.PaymentRecord) (string, error) {
	if !rec.Refundable() {
		return "", fmt.Errorf("order %s not refundable: %w", rec.OrderID, domain.ErrPrecondition)
	}

	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	refundID, err := o.gw.Refund(gctx, rec.ChargeID, rec.Amount)
	if err != nil {
		return "", fmt.Errorf("refund order %s: %w", rec.OrderID, err)
	}

	if err := o.payments.MarkRefunded(ctx, rec.OrderID, refundID); err != nil {
		o.lg.Error("refund_unrecorded", err, map[string]any{
			"order_id": rec.OrderID, "refund_id": refundID,
		})
		return "", fmt.Errorf("record refund for order %s: %w: %w", rec.OrderID, ErrUnrecorded, err)
	}
	return refundID, nil
}
