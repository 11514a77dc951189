package models

import "time"

// Product represents a product in the catalog (stock-relevant subset)
type Product struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order
type Order struct {
	ID              int64     `db:"id" json:"id"`
	UserID          *int64    `db:"user_id" json:"user_id,omitempty"`
	Status          string    `db:"status" json:"status"`
	DeliveryAddress string    `db:"delivery_address" json:"delivery_address"`
	DeliveryMode    string    `db:"delivery_mode" json:"delivery_mode"`
	Total           int64     `db:"total" json:"total"`
	PaymentIntentID *string   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item in an order
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Cart represents a user's shopping cart
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartItem represents an item in a cart
type CartItem struct {
	ID        int64 `db:"id" json:"id"`
	CartID    int64 `db:"cart_id" json:"cart_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Slot represents a bookable service time slot
type Slot struct {
	ID              int64     `db:"id" json:"id"`
	ServiceID       int64     `db:"service_id" json:"service_id"`
	StartAt         time.Time `db:"start_at" json:"start_at"`
	EndAt           time.Time `db:"end_at" json:"end_at"`
	Status          string    `db:"status" json:"status"`
	PaymentIntentID *string   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Booking links a slot to the reserving identity, either a registered
// user or a guest contact. Read-only from the reconciliation engine.
type Booking struct {
	ID        int64   `db:"id" json:"id"`
	SlotID    int64   `db:"slot_id" json:"slot_id"`
	UserID    *int64  `db:"user_id" json:"user_id,omitempty"`
	FirstName *string `db:"first_name" json:"first_name,omitempty"`
	LastName  *string `db:"last_name" json:"last_name,omitempty"`
	Email     *string `db:"email" json:"email,omitempty"`
}

// Order statuses
const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
)

// Slot statuses
const (
	SlotStatusOpen      = "open"
	SlotStatusBooked    = "booked"
	SlotStatusCancelled = "cancelled"
)

// PaymentEventRecord is the ledger row for an inbound provider event.
// At most one row exists per event id; status only moves
// received -> processing -> processed|error.
type PaymentEventRecord struct {
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	Status      string     `db:"status"`
	Error       *string    `db:"error"`
	ClaimedAt   time.Time  `db:"claimed_at"`
	ProcessedAt *time.Time `db:"processed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Ledger statuses
const (
	EventStatusReceived   = "received"
	EventStatusProcessing = "processing"
	EventStatusProcessed  = "processed"
	EventStatusError      = "error"
)
