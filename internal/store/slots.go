package store

import (
	"context"
	"database/sql"
	"fmt"

	"payment-reconciler/internal/models"
)

// LoadSlot retrieves a slot by ID.
func (s *Store) LoadSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	var slot models.Slot
	err := s.db.GetContext(ctx, &slot, "SELECT * FROM slots WHERE id = $1", slotID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("slot %d: %w", slotID, ErrSlotNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// MarkSlotBooked transitions an open slot to booked and attaches the
// payment reference. The conditional update is the whole transaction: it
// succeeds at most once per slot, so a concurrent or replayed transition
// resolves to ErrSlotNotOpen instead of a double booking.
func (s *Store) MarkSlotBooked(ctx context.Context, slotID int64, paymentIntentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slots
		SET status = $2, payment_intent_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		slotID, models.SlotStatusBooked, paymentIntentID, models.SlotStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to book slot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slot %d: %w", slotID, ErrSlotNotOpen)
	}
	return nil
}

// LoadBookingForSlot retrieves the booking contact attached to a slot, or
// nil when the slot has none. Read-only: the engine never mutates bookings.
func (s *Store) LoadBookingForSlot(ctx context.Context, slotID int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking,
		"SELECT * FROM bookings WHERE slot_id = $1", slotID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}
