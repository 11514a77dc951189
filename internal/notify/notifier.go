package notify

import (
	"context"
	"fmt"
	"time"

	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification kinds
const (
	KindOrderPaid        = "order.paid"
	KindBookingConfirmed = "booking.confirmed"
)

// Publisher publishes a keyed payload to the notifications topic.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// NotificationLine is a line item summary for the downstream mailer.
type NotificationLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// OrderPaidNotification tells the mailer to send an order-paid message.
type OrderPaidNotification struct {
	NotificationID string             `json:"notification_id"`
	Kind           string             `json:"kind"`
	OrderID        int64              `json:"order_id"`
	UserID         *int64             `json:"user_id,omitempty"`
	Total          int64              `json:"total"`
	DeliveryMode   string             `json:"delivery_mode"`
	Items          []NotificationLine `json:"items"`
	SentAt         time.Time          `json:"sent_at"`
}

// BookingConfirmedNotification tells the mailer to send a booking
// confirmation to the contact already attached to the slot's booking.
type BookingConfirmedNotification struct {
	NotificationID string    `json:"notification_id"`
	Kind           string    `json:"kind"`
	SlotID         int64     `json:"slot_id"`
	ServiceID      int64     `json:"service_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	UserID         *int64    `json:"user_id,omitempty"`
	Email          *string   `json:"email,omitempty"`
	FirstName      *string   `json:"first_name,omitempty"`
	LastName       *string   `json:"last_name,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Dispatcher publishes notification commands to the notifications topic.
// Dispatch is fire-and-forget: a failure is logged and counted, never
// retried here and never allowed to affect reconciliation state.
type Dispatcher struct {
	producer Publisher
	logger   *zap.Logger
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(producer Publisher) *Dispatcher {
	return &Dispatcher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

// NotifyOrderPaid dispatches an order-paid notification.
func (d *Dispatcher) NotifyOrderPaid(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	lines := make([]NotificationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, NotificationLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	n := OrderPaidNotification{
		NotificationID: uuid.New().String(),
		Kind:           KindOrderPaid,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Total:          order.Total,
		DeliveryMode:   order.DeliveryMode,
		Items:          lines,
		SentAt:         time.Now(),
	}

	util.NotificationsPublishedTotal.WithLabelValues(KindOrderPaid).Inc()
	if err := d.producer.Publish(ctx, fmt.Sprintf("order-%d", order.ID), n); err != nil {
		util.NotificationsFailedTotal.Inc()
		d.logger.Error("Failed to publish order-paid notification",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return err
	}

	return nil
}

// NotifyBookingConfirmed dispatches a booking-confirmed notification.
// The booking may be nil for slots without an attached contact; the
// notification still goes out so the backoffice feed sees the booking.
func (d *Dispatcher) NotifyBookingConfirmed(ctx context.Context, slot *models.Slot, booking *models.Booking) error {
	n := BookingConfirmedNotification{
		NotificationID: uuid.New().String(),
		Kind:           KindBookingConfirmed,
		SlotID:         slot.ID,
		ServiceID:      slot.ServiceID,
		StartAt:        slot.StartAt,
		EndAt:          slot.EndAt,
		SentAt:         time.Now(),
	}
	if booking != nil {
		n.UserID = booking.UserID
		n.Email = booking.Email
		n.FirstName = booking.FirstName
		n.LastName = booking.LastName
	}

	util.NotificationsPublishedTotal.WithLabelValues(KindBookingConfirmed).Inc()
	if err := d.producer.Publish(ctx, fmt.Sprintf("slot-%d", slot.ID), n); err != nil {
		util.NotificationsFailedTotal.Inc()
		d.logger.Error("Failed to publish booking-confirmed notification",
			zap.Int64("slot_id", slot.ID),
			zap.Error(err))
		return err
	}

	return nil
}
