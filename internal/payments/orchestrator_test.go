package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
)

type memPayments struct {
	mu   sync.Mutex
	rows map[string]domain.PaymentRecord
}

func newMemPayments() *memPayments { return &memPayments{rows: make(map[string]domain.PaymentRecord)} }

func (m *memPayments) put(p domain.PaymentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.OrderID] = p
}

func (m *memPayments) get(orderID string) domain.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[orderID]
}

func (m *memPayments) GetByOrderID(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[orderID]
	if !ok {
		return domain.PaymentRecord{}, fmt.Errorf("payment for order %s: %w", orderID, domain.ErrNotFound)
	}
	return p, nil
}

func (m *memPayments) MarkCaptured(_ context.Context, orderID, chargeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[orderID]
	if !ok || p.ChargeID != "" {
		return fmt.Errorf("payment for order %s not capturable: %w", orderID, domain.ErrPrecondition)
	}
	p.ChargeID = chargeID
	p.Paid = true
	m.rows[orderID] = p
	return nil
}

func (m *memPayments) MarkRefunded(_ context.Context, orderID, refundID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[orderID]
	if !ok || !p.Paid || p.RefundID != "" {
		return fmt.Errorf("payment for order %s not refundable: %w", orderID, domain.ErrPrecondition)
	}
	p.RefundID = refundID
	m.rows[orderID] = p
	return nil
}

// stubGateway answers with fixed ids or a fixed error.
type stubGateway struct {
	chargeErr error
	refundErr error
}

func (g *stubGateway) Charge(_ context.Context, _ ChargeRequest) (string, error) {
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	return "ch_1", nil
}

func (g *stubGateway) Refund(_ context.Context, _ string, _ int64) (string, error) {
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return "re_1", nil
}

// hangingGateway blocks until the call's context runs out.
type hangingGateway struct{}

func (hangingGateway) Charge(ctx context.Context, _ ChargeRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hangingGateway) Refund(ctx context.Context, _ string, _ int64) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func preAuth() domain.PaymentRecord {
	return domain.PaymentRecord{
		OrderID: "ord-1", Amount: 1250, Currency: "GBP",
		SourceToken: "tok_visa", DestinationAccount: "acct_r1",
	}
}

func TestCapture_Succeeds(t *testing.T) {
	store := newMemPayments()
	store.put(preAuth())
	o := NewOrchestrator(&stubGateway{}, store, time.Second, logger.New("test"))

	chargeID, err := o.Capture(context.Background(), preAuth())
	require.NoError(t, err)
	assert.Equal(t, "ch_1", chargeID)

	rec := store.get("ord-1")
	assert.True(t, rec.Paid)
	assert.Equal(t, "ch_1", rec.ChargeID)
}

func TestCapture_GatewayError(t *testing.T) {
	store := newMemPayments()
	store.put(preAuth())
	gerr := &GatewayError{Code: CodeCardDeclined, Message: "insufficient funds"}
	o := NewOrchestrator(&stubGateway{chargeErr: gerr}, store, time.Second, logger.New("test"))

	_, err := o.Capture(context.Background(), preAuth())
	require.Error(t, err)

	var got *GatewayError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, CodeCardDeclined, got.Code)
	assert.False(t, store.get("ord-1").Paid)
}

func TestCapture_TimesOut(t *testing.T) {
	store := newMemPayments()
	store.put(preAuth())
	o := NewOrchestrator(hangingGateway{}, store, 10*time.Millisecond, logger.New("test"))

	_, err := o.Capture(context.Background(), preAuth())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, store.get("ord-1").Paid)
}

// downPayments refuses every write, as a store outage would.
type downPayments struct{}

func (downPayments) GetByOrderID(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	return domain.PaymentRecord{}, fmt.Errorf("payment for order %s: %w", orderID, domain.ErrNotFound)
}
func (downPayments) MarkCaptured(_ context.Context, _, _ string) error {
	return errors.New("store unavailable")
}
func (downPayments) MarkRefunded(_ context.Context, _, _ string) error {
	return errors.New("store unavailable")
}

func TestCapture_StoreDownMarksUnrecorded(t *testing.T) {
	o := NewOrchestrator(&stubGateway{}, downPayments{}, time.Second, logger.New("test"))

	_, err := o.Capture(context.Background(), preAuth())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecorded), "a charged-but-unrecorded capture must carry ErrUnrecorded")
}

func TestRefund_StoreDownMarksUnrecorded(t *testing.T) {
	rec := preAuth()
	rec.Paid = true
	rec.ChargeID = "ch_1"
	o := NewOrchestrator(&stubGateway{}, downPayments{}, time.Second, logger.New("test"))

	_, err := o.Refund(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecorded))
}

func TestCapture_SecondAttemptBlocked(t *testing.T) {
	store := newMemPayments()
	rec := preAuth()
	rec.Paid = true
	rec.ChargeID = "ch_prev"
	store.put(rec)
	o := NewOrchestrator(&stubGateway{}, store, time.Second, logger.New("test"))

	// The gateway answers but the row guard refuses to overwrite the first
	// charge, so the caller sees the failure instead of silent double books.
	_, err := o.Capture(context.Background(), preAuth())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPrecondition))
	assert.Equal(t, "ch_prev", store.get("ord-1").ChargeID)
}

func TestRefund_Succeeds(t *testing.T) {
	store := newMemPayments()
	rec := preAuth()
	rec.Paid = true
	rec.ChargeID = "ch_1"
	store.put(rec)
	o := NewOrchestrator(&stubGateway{}, store, time.Second, logger.New("test"))

	refundID, err := o.Refund(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "re_1", refundID)
	assert.Equal(t, "re_1", store.get("ord-1").RefundID)
}

func TestRefund_NotRefundable(t *testing.T) {
	store := newMemPayments()
	store.put(preAuth())
	o := NewOrchestrator(&stubGateway{}, store, time.Second, logger.New("test"))

	_, err := o.Refund(context.Background(), preAuth()) // never captured
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPrecondition))
	assert.Empty(t, store.get("ord-1").RefundID)
}

func TestRefund_GatewayError(t *testing.T) {
	store := newMemPayments()
	rec := preAuth()
	rec.Paid = true
	rec.ChargeID = "ch_1"
	store.put(rec)
	gerr := &GatewayError{Code: CodeUnavailable}
	o := NewOrchestrator(&stubGateway{refundErr: gerr}, store, time.Second, logger.New("test"))

	_, err := o.Refund(context.Background(), rec)
	require.Error(t, err)
	assert.Empty(t, store.get("ord-1").RefundID, "a failed refund must leave the record untouched")
}
