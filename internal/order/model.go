package order

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether the status is sticky: once reached it is never
// overwritten by a later gateway event.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCanceled  DeliveryStatus = "canceled"
	DeliveryReturned  DeliveryStatus = "returned"
	DeliveryFailed    DeliveryStatus = "failed_delivery"
)

// RefundEligible reports whether the delivery status permits refunding the
// sub-order's escrow.
func (s DeliveryStatus) RefundEligible() bool {
	switch s {
	case DeliveryCanceled, DeliveryReturned, DeliveryFailed:
		return true
	}
	return false
}

// Product is a line-item snapshot taken at order time. It stays fixed even
// if the live catalog entry changes afterwards.
type Product struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Escrow tracks where a sub-order's captured funds sit. At most one of
// Released/Refunded may ever become true, and either is terminal.
type Escrow struct {
	Held         bool   `json:"held"`
	Released     bool   `json:"released"`
	Refunded     bool   `json:"refunded"`
	RefundReason string `json:"refund_reason,omitempty"`
}

// Resolved reports whether the escrow reached a terminal state.
func (e Escrow) Resolved() bool {
	return e.Released || e.Refunded
}

type SubOrder struct {
	ID                 string         `json:"id"`
	OrderID            string         `json:"order_id"`
	StoreID            string         `json:"store_id"`
	Products           []Product      `json:"products"`
	Amount             int64          `json:"amount"`
	DeliveryStatus     DeliveryStatus `json:"delivery_status"`
	Escrow             Escrow         `json:"escrow"`
	ShippedAt          *time.Time     `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	ReturnWindowEndsAt *time.Time     `json:"return_window_ends_at,omitempty"`
	RefundRequestDate  *time.Time     `json:"refund_request_date,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CustomerEmail   string          `json:"customer_email"`
	Amount          int64           `json:"amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	SubOrders       []SubOrder      `json:"sub_orders,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
