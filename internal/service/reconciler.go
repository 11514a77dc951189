package service

import (
	"context"
	"errors"
	"time"

	"payment-reconciler/internal/ledger"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// EventLedger records claim/commit outcomes for inbound event ids.
type EventLedger interface {
	Claim(ctx context.Context, eventID, eventType string) (ledger.ClaimResult, error)
	Commit(ctx context.Context, eventID string, outcome ledger.Outcome) error
}

// OrderStore exposes the single atomic order transition the engine needs.
type OrderStore interface {
	DecrementStockAndMarkPaid(ctx context.Context, orderID int64, paymentIntentID string) (*models.Order, []models.OrderItem, error)
}

// ReservationStore exposes the slot transition primitives.
type ReservationStore interface {
	LoadSlot(ctx context.Context, slotID int64) (*models.Slot, error)
	MarkSlotBooked(ctx context.Context, slotID int64, paymentIntentID string) error
	LoadBookingForSlot(ctx context.Context, slotID int64) (*models.Booking, error)
}

// Notifier dispatches best-effort notifications after a transition.
type Notifier interface {
	NotifyOrderPaid(ctx context.Context, order *models.Order, items []models.OrderItem) error
	NotifyBookingConfirmed(ctx context.Context, slot *models.Slot, booking *models.Booking) error
}

// DuplicateCache is an advisory fast path in front of the ledger. A miss
// or a cache error just falls through to the claim; the ledger stays the
// source of truth.
type DuplicateCache interface {
	SeenProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// Engine turns verified payment events into exactly-once state
// transitions. It owns no entity long-term, only the transitions: it is
// the sole writer moving an order to paid or a slot to booked in response
// to a payment signal.
type Engine struct {
	ledger   EventLedger
	orders   OrderStore
	slots    ReservationStore
	notifier Notifier
	dedupe   DuplicateCache
	logger   *zap.Logger
}

// NewEngine creates a reconciliation engine. dedupe may be nil.
func NewEngine(l EventLedger, orders OrderStore, slots ReservationStore, notifier Notifier, dedupe DuplicateCache) *Engine {
	return &Engine{
		ledger:   l,
		orders:   orders,
		slots:    slots,
		notifier: notifier,
		dedupe:   dedupe,
		logger:   util.GetLogger(),
	}
}

// HandleEvent routes a typed event to its family handler. Unhandled types
// are acknowledged and ignored.
func (e *Engine) HandleEvent(ctx context.Context, event models.PaymentEvent) error {
	util.EventsReceivedTotal.WithLabelValues(event.EventType()).Inc()

	switch evt := event.(type) {
	case *models.CheckoutCompletedEvent:
		return e.HandleCheckoutCompleted(ctx, evt)
	case *models.SlotCheckoutCompletedEvent:
		return e.HandleSlotCheckoutCompleted(ctx, evt)
	case *models.PaymentFailedEvent:
		return e.HandlePaymentFailed(ctx, evt)
	default:
		util.EventsUnhandledTotal.Inc()
		e.logger.Info("Ignoring unhandled event type",
			zap.String("event_id", event.EventID()),
			zap.String("event_type", event.EventType()))
		return nil
	}
}

// HandleCheckoutCompleted reconciles an order payment: claim the event,
// run the atomic stock-decrement-and-mark-paid transition, commit the
// outcome, then dispatch a best-effort notification. Business failures
// become ledger error rows, never errors to the provider.
func (e *Engine) HandleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "Engine.HandleCheckoutCompleted")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	if event.OrderID == 0 || event.UserID == 0 {
		util.EventsSkippedTotal.WithLabelValues("missing_metadata").Inc()
		e.logger.Warn("Checkout event missing order metadata, skipping",
			zap.String("event_id", event.ID))
		return nil
	}

	claimed, err := e.claim(ctx, event.ID, event.EventType())
	if err != nil || !claimed {
		return err
	}

	order, items, err := e.orders.DecrementStockAndMarkPaid(ctx, event.OrderID, event.PaymentIntentID)
	if errors.Is(err, store.ErrOrderNotPending) {
		// The order already reached paid, most likely a replay after a
		// lost ledger commit. Harmless: record processed and move on.
		e.logger.Info("Order already reconciled",
			zap.String("event_id", event.ID),
			zap.Int64("order_id", event.OrderID))
		e.commit(ctx, event.ID, ledger.Processed())
		return nil
	}
	if err != nil {
		util.ReconciliationFailedTotal.WithLabelValues(failureReason(err)).Inc()
		e.logger.Error("Order reconciliation failed",
			zap.String("event_id", event.ID),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		e.commit(ctx, event.ID, ledger.Errored(err.Error()))
		return nil
	}

	e.commit(ctx, event.ID, ledger.Processed())
	util.OrdersReconciledTotal.Inc()
	e.logger.Info("Order reconciled",
		zap.String("event_id", event.ID),
		zap.Int64("order_id", order.ID),
		zap.Int64("total", order.Total))

	// Outside the transaction; a notify failure must not reverse the
	// payment state.
	if err := e.notifier.NotifyOrderPaid(ctx, order, items); err != nil {
		e.logger.Warn("Order-paid notification failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	return nil
}

// HandleSlotCheckoutCompleted reconciles a slot deposit payment. A slot
// that is no longer open counts as already reconciled: a harmless
// double-ack beats a slot stuck at open after a successful booking.
func (e *Engine) HandleSlotCheckoutCompleted(ctx context.Context, event *models.SlotCheckoutCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "Engine.HandleSlotCheckoutCompleted")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	if event.SlotID == 0 {
		util.EventsSkippedTotal.WithLabelValues("missing_metadata").Inc()
		e.logger.Warn("Slot checkout event missing slot metadata, skipping",
			zap.String("event_id", event.ID))
		return nil
	}

	claimed, err := e.claim(ctx, event.ID, event.EventType())
	if err != nil || !claimed {
		return err
	}

	slot, err := e.slots.LoadSlot(ctx, event.SlotID)
	if err != nil {
		util.ReconciliationFailedTotal.WithLabelValues(failureReason(err)).Inc()
		e.logger.Error("Slot reconciliation failed",
			zap.String("event_id", event.ID),
			zap.Int64("slot_id", event.SlotID),
			zap.Error(err))
		e.commit(ctx, event.ID, ledger.Errored(err.Error()))
		return nil
	}

	if slot.Status != models.SlotStatusOpen {
		e.logger.Info("Slot already reconciled",
			zap.String("event_id", event.ID),
			zap.Int64("slot_id", slot.ID),
			zap.String("status", slot.Status))
		e.commit(ctx, event.ID, ledger.Processed())
		return nil
	}

	err = e.slots.MarkSlotBooked(ctx, slot.ID, event.PaymentIntentID)
	if errors.Is(err, store.ErrSlotNotOpen) {
		// Lost a race with a concurrent transition; same idempotent no-op.
		e.commit(ctx, event.ID, ledger.Processed())
		return nil
	}
	if err != nil {
		util.ReconciliationFailedTotal.WithLabelValues(failureReason(err)).Inc()
		e.logger.Error("Slot booking transition failed",
			zap.String("event_id", event.ID),
			zap.Int64("slot_id", slot.ID),
			zap.Error(err))
		e.commit(ctx, event.ID, ledger.Errored(err.Error()))
		return nil
	}

	e.commit(ctx, event.ID, ledger.Processed())
	util.SlotsReconciledTotal.Inc()
	slot.Status = models.SlotStatusBooked
	e.logger.Info("Slot reconciled",
		zap.String("event_id", event.ID),
		zap.Int64("slot_id", slot.ID))

	booking, err := e.slots.LoadBookingForSlot(ctx, slot.ID)
	if err != nil {
		e.logger.Warn("Failed to load booking contact",
			zap.Int64("slot_id", slot.ID),
			zap.Error(err))
	}
	if err := e.notifier.NotifyBookingConfirmed(ctx, slot, booking); err != nil {
		e.logger.Warn("Booking-confirmed notification failed",
			zap.Int64("slot_id", slot.ID),
			zap.Error(err))
	}

	return nil
}

// HandlePaymentFailed records a failed payment attempt. No entity state
// changes; the order or slot stays in its prior valid state.
func (e *Engine) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "Engine.HandlePaymentFailed")
	defer span.End()

	claimed, err := e.claim(ctx, event.ID, event.EventType())
	if err != nil || !claimed {
		return err
	}

	e.logger.Warn("Payment failed",
		zap.String("event_id", event.ID),
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	e.commit(ctx, event.ID, ledger.Processed())
	return nil
}

// claim runs the duplicate-suppression discipline: advisory cache check,
// then the authoritative ledger claim. Returns true only when this caller
// won the claim and must run business logic.
func (e *Engine) claim(ctx context.Context, eventID, eventType string) (bool, error) {
	if e.dedupe != nil {
		if seen, err := e.dedupe.SeenProcessed(ctx, eventID); err == nil && seen {
			util.EventsDuplicateTotal.Inc()
			e.logger.Info("Duplicate delivery (cache)",
				zap.String("event_id", eventID))
			return false, nil
		}
	}

	result, err := e.ledger.Claim(ctx, eventID, eventType)
	if err != nil {
		// Infrastructure failure before any mutation; the boundary still
		// acknowledges and the next delivery retries.
		e.logger.Error("Ledger claim failed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return false, err
	}
	util.LedgerClaimsTotal.WithLabelValues(result.String()).Inc()

	switch result {
	case ledger.AlreadyProcessed:
		util.EventsDuplicateTotal.Inc()
		e.logger.Info("Duplicate delivery (already processed)",
			zap.String("event_id", eventID))
		e.cacheProcessed(ctx, eventID)
		return false, nil
	case ledger.AlreadyInFlight:
		e.logger.Info("Duplicate delivery (in flight)",
			zap.String("event_id", eventID))
		return false, nil
	}
	return true, nil
}

// commit records the terminal outcome. A commit failure leaves the row in
// processing; the claim lease makes that retryable instead of wedged.
func (e *Engine) commit(ctx context.Context, eventID string, outcome ledger.Outcome) {
	if err := e.ledger.Commit(ctx, eventID, outcome); err != nil {
		e.logger.Error("Ledger commit failed",
			zap.String("event_id", eventID),
			zap.Error(err))
		return
	}
	if outcome.Status == models.EventStatusProcessed {
		e.cacheProcessed(ctx, eventID)
	}
}

func (e *Engine) cacheProcessed(ctx context.Context, eventID string) {
	if e.dedupe == nil {
		return
	}
	if err := e.dedupe.MarkProcessed(ctx, eventID); err != nil {
		e.logger.Debug("Failed to cache processed event",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, store.ErrSlotNotFound):
		return "slot_not_found"
	default:
		return "transaction_error"
	}
}
