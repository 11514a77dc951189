package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"payment-reconciler/internal/ledger"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger mimics the unique-constraint claim discipline in memory.
type fakeLedger struct {
	mu   sync.Mutex
	rows map[string]*models.PaymentEventRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]*models.PaymentEventRecord)}
}

func (l *fakeLedger) Claim(ctx context.Context, eventID, eventType string) (ledger.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[eventID]
	if !ok {
		l.rows[eventID] = &models.PaymentEventRecord{
			EventID:   eventID,
			EventType: eventType,
			Status:    models.EventStatusProcessing,
		}
		return ledger.Claimed, nil
	}

	switch row.Status {
	case models.EventStatusProcessed:
		return ledger.AlreadyProcessed, nil
	case models.EventStatusError:
		row.Status = models.EventStatusProcessing
		row.Error = nil
		return ledger.Claimed, nil
	default:
		return ledger.AlreadyInFlight, nil
	}
}

func (l *fakeLedger) Commit(ctx context.Context, eventID string, outcome ledger.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[eventID]
	if !ok {
		return fmt.Errorf("no claim for event %s", eventID)
	}
	row.Status = outcome.Status
	if outcome.Message != "" {
		msg := outcome.Message
		row.Error = &msg
	}
	return nil
}

func (l *fakeLedger) status(eventID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[eventID]; ok {
		return row.Status
	}
	return ""
}

// fakeOrderStore implements the atomic transition contract in memory:
// all-or-nothing stock check, paid transition, cart deletion.
type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	items       map[int64][]models.OrderItem
	stock       map[int64]int
	carts       map[int64]bool
	transitions int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders: make(map[int64]*models.Order),
		items:  make(map[int64][]models.OrderItem),
		stock:  make(map[int64]int),
		carts:  make(map[int64]bool),
	}
}

func (s *fakeOrderStore) DecrementStockAndMarkPaid(ctx context.Context, orderID int64, paymentIntentID string) (*models.Order, []models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, store.ErrOrderNotFound)
	}
	if order.Status != models.OrderStatusPending {
		return nil, nil, fmt.Errorf("order %d has status %s: %w",
			orderID, order.Status, store.ErrOrderNotPending)
	}

	items := s.items[orderID]
	required := make(map[int64]int, len(items))
	for _, item := range items {
		required[item.ProductID] += item.Quantity
		if required[item.ProductID] > s.stock[item.ProductID] {
			return nil, nil, fmt.Errorf("product %d: %w",
				item.ProductID, store.ErrInsufficientStock)
		}
	}

	for _, item := range items {
		s.stock[item.ProductID] -= item.Quantity
	}
	order.Status = models.OrderStatusPaid
	order.PaymentIntentID = &paymentIntentID
	if order.UserID != nil {
		delete(s.carts, *order.UserID)
	}
	s.transitions++

	copied := *order
	return &copied, items, nil
}

// fakeSlotStore implements the slot transition contract in memory.
type fakeSlotStore struct {
	mu          sync.Mutex
	slots       map[int64]*models.Slot
	bookings    map[int64]*models.Booking
	transitions int
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{
		slots:    make(map[int64]*models.Slot),
		bookings: make(map[int64]*models.Booking),
	}
}

func (s *fakeSlotStore) LoadSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("slot %d: %w", slotID, store.ErrSlotNotFound)
	}
	copied := *slot
	return &copied, nil
}

func (s *fakeSlotStore) MarkSlotBooked(ctx context.Context, slotID int64, paymentIntentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok || slot.Status != models.SlotStatusOpen {
		return fmt.Errorf("slot %d: %w", slotID, store.ErrSlotNotOpen)
	}
	slot.Status = models.SlotStatusBooked
	slot.PaymentIntentID = &paymentIntentID
	s.transitions++
	return nil
}

func (s *fakeSlotStore) LoadBookingForSlot(ctx context.Context, slotID int64) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[slotID], nil
}

type fakeNotifier struct {
	mu                sync.Mutex
	orderPaid         int
	bookingConfirmed  int
	lastBookingEmail  *string
	failNotifications bool
}

func (n *fakeNotifier) NotifyOrderPaid(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orderPaid++
	if n.failNotifications {
		return fmt.Errorf("notification channel down")
	}
	return nil
}

func (n *fakeNotifier) NotifyBookingConfirmed(ctx context.Context, slot *models.Slot, booking *models.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bookingConfirmed++
	if booking != nil {
		n.lastBookingEmail = booking.Email
	}
	if n.failNotifications {
		return fmt.Errorf("notification channel down")
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

func newTestEngine(l *fakeLedger, orders *fakeOrderStore, slots *fakeSlotStore, n *fakeNotifier) *Engine {
	return NewEngine(l, orders, slots, n, nil)
}

func seedOrder42(s *fakeOrderStore) {
	s.orders[42] = &models.Order{
		ID:     42,
		UserID: int64Ptr(7),
		Status: models.OrderStatusPending,
		Total:  3000,
	}
	s.items[42] = []models.OrderItem{
		{ID: 1, OrderID: 42, ProductID: 7, Quantity: 3, UnitPrice: 1000},
	}
	s.stock[7] = 5
	s.carts[7] = true
}

func checkoutEvent(id string, orderID, userID int64) *models.CheckoutCompletedEvent {
	return &models.CheckoutCompletedEvent{
		ID:              id,
		OrderID:         orderID,
		UserID:          userID,
		PaymentIntentID: "pi_" + id,
	}
}

func TestOrderReconciliation(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_1", 42, 7))
	require.NoError(t, err)

	assert.Equal(t, 2, orders.stock[7])
	assert.Equal(t, models.OrderStatusPaid, orders.orders[42].Status)
	assert.False(t, orders.carts[7], "cart should be deleted")
	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_1"))
	assert.Equal(t, 1, notifier.orderPaid)
}

func TestOrderReconciliationIdempotent(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	for i := 0; i < 3; i++ {
		err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_dup", 42, 7))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, orders.transitions, "exactly one transition")
	assert.Equal(t, 2, orders.stock[7], "exactly one stock decrement")
	assert.Equal(t, 1, notifier.orderPaid, "exactly one notification attempt")
}

func TestInsufficientStockIsAllOrNothing(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	orders.orders[50] = &models.Order{
		ID:     50,
		UserID: int64Ptr(9),
		Status: models.OrderStatusPending,
	}
	orders.items[50] = []models.OrderItem{
		{OrderID: 50, ProductID: 1, Quantity: 1, UnitPrice: 100},
		{OrderID: 50, ProductID: 2, Quantity: 10, UnitPrice: 100},
	}
	orders.stock[1] = 5
	orders.stock[2] = 3
	orders.carts[9] = true

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_short", 50, 9))
	require.NoError(t, err, "business failures are absorbed")

	assert.Equal(t, 5, orders.stock[1], "no stock decremented for any line")
	assert.Equal(t, 3, orders.stock[2])
	assert.Equal(t, models.OrderStatusPending, orders.orders[50].Status)
	assert.True(t, orders.carts[9], "cart untouched on failure")
	assert.Equal(t, models.EventStatusError, ledgerFake.status("evt_short"))
	assert.Zero(t, notifier.orderPaid)
}

func TestInsufficientStockSingleLine(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	orders.orders[43] = &models.Order{
		ID:     43,
		UserID: int64Ptr(8),
		Status: models.OrderStatusPending,
	}
	orders.items[43] = []models.OrderItem{
		{OrderID: 43, ProductID: 7, Quantity: 10, UnitPrice: 1000},
	}
	orders.stock[7] = 2

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_43", 43, 8))
	require.NoError(t, err)

	assert.Equal(t, 2, orders.stock[7], "stock unchanged")
	assert.Equal(t, models.OrderStatusPending, orders.orders[43].Status)
	assert.Equal(t, models.EventStatusError, ledgerFake.status("evt_43"))
}

func TestOrderNotFoundRecordsError(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_missing", 99, 1))
	require.NoError(t, err)

	assert.Equal(t, models.EventStatusError, ledgerFake.status("evt_missing"))
	assert.Zero(t, notifier.orderPaid)
}

func TestMissingMetadataIsAcknowledgedNoOp(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_nometa", 0, 0))
	require.NoError(t, err)

	assert.Empty(t, ledgerFake.rows, "no claim for unresolvable events")
	assert.Equal(t, 5, orders.stock[7])
	assert.Zero(t, orders.transitions)
}

func TestAlreadyPaidOrderIsIdempotentNoOp(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)
	orders.orders[42].Status = models.OrderStatusPaid

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_replay", 42, 7))
	require.NoError(t, err)

	assert.Equal(t, 5, orders.stock[7], "no second decrement")
	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_replay"))
	assert.Zero(t, notifier.orderPaid)
}

func TestConcurrentDuplicateClaims(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_race", 42, 7))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, orders.transitions, "exactly one caller proceeds to business logic")
	assert.Equal(t, 2, orders.stock[7])
	assert.Equal(t, 1, notifier.orderPaid)
}

func TestNotifierFailureDoesNotReverseTransition(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{failNotifications: true}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_notify", 42, 7))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPaid, orders.orders[42].Status)
	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_notify"))
}

func TestSlotReconciliation(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	email := "guest@example.com"
	slots.slots[9] = &models.Slot{ID: 9, ServiceID: 3, Status: models.SlotStatusOpen}
	slots.bookings[9] = &models.Booking{SlotID: 9, Email: &email}

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	event := &models.SlotCheckoutCompletedEvent{ID: "evt_slot", SlotID: 9, PaymentIntentID: "pi_slot"}
	err := engine.HandleSlotCheckoutCompleted(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.SlotStatusBooked, slots.slots[9].Status)
	require.NotNil(t, slots.slots[9].PaymentIntentID)
	assert.Equal(t, "pi_slot", *slots.slots[9].PaymentIntentID)
	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_slot"))
	assert.Equal(t, 1, notifier.bookingConfirmed)
	require.NotNil(t, notifier.lastBookingEmail)
	assert.Equal(t, email, *notifier.lastBookingEmail)
}

func TestSlotDoubleDeliveryIsSafe(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	slots.slots[9] = &models.Slot{ID: 9, Status: models.SlotStatusOpen}

	engine := newTestEngine(ledgerFake, orders, slots, notifier)
	event := &models.SlotCheckoutCompletedEvent{ID: "evt_slot_dup", SlotID: 9, PaymentIntentID: "pi_1"}

	require.NoError(t, engine.HandleSlotCheckoutCompleted(context.Background(), event))
	require.NoError(t, engine.HandleSlotCheckoutCompleted(context.Background(), event))

	assert.Equal(t, models.SlotStatusBooked, slots.slots[9].Status)
	assert.Equal(t, 1, slots.transitions, "mutation happens once")
	assert.Equal(t, 1, notifier.bookingConfirmed)
}

func TestSlotAlreadyBookedIsNoOpNotError(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	slots.slots[11] = &models.Slot{ID: 11, Status: models.SlotStatusBooked}

	engine := newTestEngine(ledgerFake, orders, slots, notifier)
	event := &models.SlotCheckoutCompletedEvent{ID: "evt_booked", SlotID: 11, PaymentIntentID: "pi_2"}

	err := engine.HandleSlotCheckoutCompleted(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_booked"))
	assert.Zero(t, slots.transitions)
	assert.Zero(t, notifier.bookingConfirmed)
}

func TestSlotNotFoundRecordsError(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}

	engine := newTestEngine(ledgerFake, orders, slots, notifier)
	event := &models.SlotCheckoutCompletedEvent{ID: "evt_noslot", SlotID: 404, PaymentIntentID: "pi_3"}

	err := engine.HandleSlotCheckoutCompleted(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.EventStatusError, ledgerFake.status("evt_noslot"))
}

func TestPaymentFailedLeavesStateUntouched(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	event := &models.PaymentFailedEvent{ID: "evt_fail", OrderID: 42, Reason: "card_declined"}
	err := engine.HandlePaymentFailed(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, orders.orders[42].Status)
	assert.Equal(t, 5, orders.stock[7])
	assert.Equal(t, models.EventStatusProcessed, ledgerFake.status("evt_fail"))
}

func TestHandleEventRoutesByType(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	seedOrder42(orders)

	engine := newTestEngine(ledgerFake, orders, slots, notifier)

	err := engine.HandleEvent(context.Background(), checkoutEvent("evt_route", 42, 7))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, orders.orders[42].Status)

	err = engine.HandleEvent(context.Background(), &models.UnhandledEvent{ID: "evt_x", Type: "refund_created"})
	assert.NoError(t, err, "unhandled types are acknowledged and ignored")
}

// fakeDedupe records cache interactions for the advisory fast path.
type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDedupe) SeenProcessed(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[eventID], nil
}

func (d *fakeDedupe) MarkProcessed(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = true
	return nil
}

func TestDuplicateCacheShortCircuitsBeforeLedger(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	dedupe := &fakeDedupe{seen: map[string]bool{"evt_cached": true}}
	seedOrder42(orders)

	engine := NewEngine(ledgerFake, orders, slots, notifier, dedupe)

	err := engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_cached", 42, 7))
	require.NoError(t, err)

	assert.Empty(t, ledgerFake.rows, "cache hit skips the ledger round trip")
	assert.Zero(t, orders.transitions)
}

func TestDuplicateCachePopulatedAfterProcessing(t *testing.T) {
	ledgerFake := newFakeLedger()
	orders := newFakeOrderStore()
	slots := newFakeSlotStore()
	notifier := &fakeNotifier{}
	dedupe := &fakeDedupe{seen: make(map[string]bool)}
	seedOrder42(orders)

	engine := NewEngine(ledgerFake, orders, slots, notifier, dedupe)

	require.NoError(t, engine.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt_warm", 42, 7)))
	assert.True(t, dedupe.seen["evt_warm"])
}
