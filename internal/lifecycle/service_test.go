package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livekitchen/internal/broadcast"
	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/payments"
	"livekitchen/internal/registry"
)

// ---- in-memory fakes -------------------------------------------------------

type memPresence struct {
	mu   sync.Mutex
	rows map[string]domain.Identity
}

func newMemPresence() *memPresence { return &memPresence{rows: make(map[string]domain.Identity)} }

func (m *memPresence) Add(_ context.Context, connID string, id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[connID] = id
	return nil
}

func (m *memPresence) Remove(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, connID)
	return nil
}

func (m *memPresence) All(_ context.Context) (map[string]domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Identity, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrders() *memOrders { return &memOrders{orders: make(map[string]domain.Order)} }

func (m *memOrders) CreateWithPayment(_ context.Context, o domain.Order, _ domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (m *memOrders) UpdateStatusCAS(_ context.Context, id string, from []domain.Status, to domain.Status, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			m.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrders) LiveOrdersForRestaurant(_ context.Context, restaurantID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.RestaurantID == restaurantID && o.Status.KitchenVisible() {
			out = append(out, o)
		}
	}
	return out, nil
}

type memPayments struct {
	mu          sync.Mutex
	rows        map[string]domain.PaymentRecord
	captureFail error // returned by MarkCaptured when set
}

func newMemPayments() *memPayments { return &memPayments{rows: make(map[string]domain.PaymentRecord)} }

func (m *memPayments) put(p domain.PaymentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.OrderID] = p
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
	if m.captureFail != nil {
		return m.captureFail
	}
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

type fakeGateway struct {
	mu        sync.Mutex
	charges   int
	refunds   int
	chargeErr error
	refundErr error
}

func (g *fakeGateway) Charge(_ context.Context, _ payments.ChargeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	return "ch_test_1", nil
}

func (g *fakeGateway) Refund(_ context.Context, _ string, _ int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds++
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return "re_test_1", nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.OutboundEvent
}

func (s *recordSink) Send(ev domain.OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) named(name string) []domain.OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboundEvent
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// ---- test environment ------------------------------------------------------

type env struct {
	orders *memOrders
	pays   *memPayments
	gw     *fakeGateway
	reg    *registry.Registry
	bc     *broadcast.Broadcaster
	svc    *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	lg := logger.New("test")
	orders := newMemOrders()
	pays := newMemPayments()
	gw := &fakeGateway{}
	reg := registry.New(newMemPresence(), lg)
	bc := broadcast.New(nil, lg)
	orch := payments.NewOrchestrator(gw, pays, time.Second, lg)
	return &env{
		orders: orders,
		pays:   pays,
		gw:     gw,
		reg:    reg,
		bc:     bc,
		svc:    New(orders, pays, orch, reg, bc, lg),
	}
}

func (e *env) connect(t *testing.T, connID, userID string, role domain.Role) *recordSink {
	t.Helper()
	require.NoError(t, e.reg.Register(context.Background(), connID, domain.Identity{UserID: userID, Role: role}))
	sink := &recordSink{}
	e.bc.Attach(connID, sink)
	return sink
}

func (e *env) seedOrder(o domain.Order, p domain.PaymentRecord) {
	_ = e.orders.CreateWithPayment(context.Background(), o, p)
	e.pays.put(p)
}

func newOrderEvent() domain.NewOrder {
	return domain.NewOrder{
		RestaurantID: "rest-1",
		TableNumber:  4,
		Currency:     "GBP",
		Items: []domain.OrderItem{
			{ItemID: "i1", Name: "Fish and chips", Price: 1000},
			{ItemID: "i2", Name: "Lemonade", Price: 250},
		},
		Payment: domain.PaymentDetails{SourceToken: "tok_visa", DestinationAccount: "acct_rest1"},
	}
}

// ---- tests -----------------------------------------------------------------

func TestSubmit_PersistsAndBroadcasts(t *testing.T) {
	e := newEnv(t)
	kitchenA := e.connect(t, "conn-r1a", "rest-1", domain.RoleRestaurateur)
	kitchenB := e.connect(t, "conn-r1b", "rest-1", domain.RoleRestaurateur)
	otherKitchen := e.connect(t, "conn-r2", "rest-2", domain.RoleRestaurateur)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)

	orderID, err := e.svc.Submit(context.Background(), "cust-1", newOrderEvent(), "conn-d1")
	require.NoError(t, err)

	stored, err := e.orders.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentToKitchen, stored.Status)
	assert.Equal(t, int64(1250), stored.PriceTotal)

	// Exactly one newOrder per kitchen connection, none for strangers.
	for _, sink := range []*recordSink{kitchenA, kitchenB} {
		notices := sink.named(domain.EventNewOrder)
		require.Len(t, notices, 1)
		order := notices[0].Payload.(domain.NewOrderNotice).Order
		assert.Equal(t, int64(1250), order.PriceTotal)
		assert.Len(t, order.Items, 2)
	}
	assert.Empty(t, otherKitchen.named(domain.EventNewOrder))

	// The diner sees the initial echo and the advance, in order.
	updates := diner.named(domain.EventOrderStatusUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, domain.StatusReceivedByServer, updates[0].Payload.(domain.OrderStatusUpdated).Status)
	assert.Equal(t, domain.StatusSentToKitchen, updates[1].Payload.(domain.OrderStatusUpdated).Status)
}

func TestSubmit_NoLiveKitchenStillSucceeds(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)

	orderID, err := e.svc.Submit(context.Background(), "cust-1", newOrderEvent(), "conn-d1")
	require.NoError(t, err)

	stored, err := e.orders.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentToKitchen, stored.Status)
	assert.Len(t, diner.named(domain.EventOrderStatusUpdated), 2)
}

func seededMeta() (domain.Order, domain.PaymentRecord, domain.OrderMeta) {
	o := domain.Order{
		ID: "ord-1", CustomerID: "cust-1", RestaurantID: "rest-1",
		PriceTotal: 1250, Currency: "GBP", Status: domain.StatusSentToKitchen,
		PlacedAt: time.Now().UTC(),
	}
	p := domain.PaymentRecord{
		OrderID: "ord-1", Amount: 1250, Currency: "GBP",
		SourceToken: "tok_visa", DestinationAccount: "acct_rest1",
	}
	meta := domain.OrderMeta{OrderID: "ord-1", RestaurantID: "rest-1", CustomerID: "cust-1"}
	return o, p, meta
}

func TestAccept_CaptureSucceeds(t *testing.T) {
	e := newEnv(t)
	kitchen := e.connect(t, "conn-r1", "rest-1", domain.RoleRestaurateur)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	e.seedOrder(o, p)

	require.NoError(t, e.svc.Accept(context.Background(), meta))

	assert.Equal(t, 1, e.gw.chargeCount())
	stored, _ := e.orders.GetByID(context.Background(), "ord-1")
	assert.Equal(t, domain.StatusPaymentSuccessful, stored.Status)

	rec, err := e.pays.GetByOrderID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, rec.Paid)
	assert.Equal(t, "ch_test_1", rec.ChargeID)

	// Both parties see the acceptance and the payment outcome.
	for _, sink := range []*recordSink{kitchen, diner} {
		updates := sink.named(domain.EventOrderStatusUpdated)
		require.Len(t, updates, 2)
		assert.Equal(t, domain.StatusAcceptedByKitchen, updates[0].Payload.(domain.OrderStatusUpdated).Status)
		last := updates[1].Payload.(domain.OrderStatusUpdated)
		assert.Equal(t, domain.StatusPaymentSuccessful, last.Status)
		assert.Equal(t, domain.StatusPaymentSuccessful.UserMessage(), last.UserMsg)
	}
}

func TestAccept_CardDeclined(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	e.seedOrder(o, p)
	e.gw.chargeErr = &payments.GatewayError{Code: payments.CodeCardDeclined, Message: "insufficient funds"}

	require.NoError(t, e.svc.Accept(context.Background(), meta))

	stored, _ := e.orders.GetByID(context.Background(), "ord-1")
	assert.Equal(t, domain.StatusPaymentFailed, stored.Status)

	rec, _ := e.pays.GetByOrderID(context.Background(), "ord-1")
	assert.False(t, rec.Paid)
	assert.Empty(t, rec.ChargeID)

	updates := diner.named(domain.EventOrderStatusUpdated)
	require.Len(t, updates, 2)
	last := updates[1].Payload.(domain.OrderStatusUpdated)
	assert.Equal(t, domain.StatusPaymentFailed, last.Status)
	assert.Equal(t, "Your card was declined.", last.UserMsg)
}

// The gateway charged the card but the capture row could not be written.
// The order must stay accepted_by_kitchen: a payment_failed transition (and
// its broadcast) would tell the diner their charged payment failed.
func TestAccept_ChargedButUnrecordedFailsClosed(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	e.seedOrder(o, p)
	e.pays.captureFail = errors.New("store unavailable")

	err := e.svc.Accept(context.Background(), meta)
	require.Error(t, err)
	assert.True(t, errors.Is(err, payments.ErrUnrecorded))
	assert.Equal(t, 1, e.gw.chargeCount())

	stored, _ := e.orders.GetByID(context.Background(), "ord-1")
	assert.Equal(t, domain.StatusAcceptedByKitchen, stored.Status)

	updates := diner.named(domain.EventOrderStatusUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusAcceptedByKitchen, updates[0].Payload.(domain.OrderStatusUpdated).Status)
}

func TestAccept_DuplicateDoesNotChargeTwice(t *testing.T) {
	e := newEnv(t)
	o, p, meta := seededMeta()
	o.Status = domain.StatusPaymentSuccessful
	p.Paid = true
	p.ChargeID = "ch_prev"
	e.seedOrder(o, p)

	require.NoError(t, e.svc.Accept(context.Background(), meta))
	assert.Equal(t, 0, e.gw.chargeCount(), "a duplicate accept must never reach the gateway")
}

func TestAccept_UnknownOrder(t *testing.T) {
	e := newEnv(t)
	err := e.svc.Accept(context.Background(), domain.OrderMeta{OrderID: "nope", RestaurantID: "rest-1", CustomerID: "cust-1"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRefund_UnpaidFailsWithoutGatewayCall(t *testing.T) {
	e := newEnv(t)
	kitchen := e.connect(t, "conn-r1", "rest-1", domain.RoleRestaurateur)
	o, p, meta := seededMeta()
	e.seedOrder(o, p) // paid is false

	err := e.svc.Refund(context.Background(), meta)
	assert.True(t, errors.Is(err, domain.ErrPrecondition))
	assert.Equal(t, 0, e.gw.refundCount())
	assert.Empty(t, kitchen.events)
}

func TestRefund_Succeeds(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	o.Status = domain.StatusPaymentSuccessful
	p.Paid = true
	p.ChargeID = "ch_prev"
	e.seedOrder(o, p)

	require.NoError(t, e.svc.Refund(context.Background(), meta))

	assert.Equal(t, 1, e.gw.refundCount())
	stored, _ := e.orders.GetByID(context.Background(), "ord-1")
	assert.Equal(t, domain.StatusRefunded, stored.Status)

	rec, _ := e.pays.GetByOrderID(context.Background(), "ord-1")
	assert.Equal(t, "re_test_1", rec.RefundID)

	updates := diner.named(domain.EventOrderStatusUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusRefunded, updates[0].Payload.(domain.OrderStatusUpdated).Status)
}

func TestRefund_AlreadyRefunded(t *testing.T) {
	e := newEnv(t)
	o, p, meta := seededMeta()
	o.Status = domain.StatusRefunded
	p.Paid = true
	p.ChargeID = "ch_prev"
	p.RefundID = "re_prev"
	e.seedOrder(o, p)

	err := e.svc.Refund(context.Background(), meta)
	assert.True(t, errors.Is(err, domain.ErrPrecondition))
	assert.Equal(t, 0, e.gw.refundCount())
}

func TestUpdateStatus_IntermediateTransition(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	e.seedOrder(o, p)
	meta.Status = domain.StatusReceivedByKitchen

	require.NoError(t, e.svc.UpdateStatus(context.Background(), meta))

	stored, _ := e.orders.GetByID(context.Background(), "ord-1")
	assert.Equal(t, domain.StatusReceivedByKitchen, stored.Status)
	require.Len(t, diner.named(domain.EventOrderStatusUpdated), 1)
}

func TestUpdateStatus_RejectsPaymentStatuses(t *testing.T) {
	e := newEnv(t)
	o, p, meta := seededMeta()
	e.seedOrder(o, p)
	meta.Status = domain.StatusPaymentSuccessful

	err := e.svc.UpdateStatus(context.Background(), meta)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestUpdateStatus_StaleIsDroppedQuietly(t *testing.T) {
	e := newEnv(t)
	diner := e.connect(t, "conn-d1", "cust-1", domain.RoleDiner)
	o, p, meta := seededMeta()
	o.Status = domain.StatusPaymentSuccessful
	e.seedOrder(o, p)
	meta.Status = domain.StatusReceivedByKitchen

	require.NoError(t, e.svc.UpdateStatus(context.Background(), meta))
	assert.Empty(t, diner.events, "a lost race must not broadcast")
}

func TestLiveOrders_OnlyKitchenVisible(t *testing.T) {
	e := newEnv(t)
	for i, st := range domain.AllStatuses() {
		o := domain.Order{
			ID: fmt.Sprintf("ord-%d", i), CustomerID: "cust-1", RestaurantID: "rest-1",
			PriceTotal: 100, Currency: "GBP", Status: st, PlacedAt: time.Now().UTC(),
		}
		_ = e.orders.CreateWithPayment(context.Background(), o, domain.PaymentRecord{OrderID: o.ID})
	}

	live, err := e.svc.LiveOrders(context.Background(), "rest-1")
	require.NoError(t, err)
	assert.Len(t, live, 4)
	for _, o := range live {
		assert.True(t, o.Status.KitchenVisible(), "status %s leaked into the live view", o.Status)
	}
}
