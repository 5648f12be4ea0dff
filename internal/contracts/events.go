package contracts

import "time"

const (
	EventPaymentConfirmed = "payments.confirmed"
	EventEscrowResolved   = "escrow.resolved"
)

// PaymentConfirmedEvent is written to the settlement outbox inside the same
// transaction that marks an order paid, then published to the notifications
// exchange by the outbox dispatcher.
type PaymentConfirmedEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"payment_method"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

type EscrowAction string

const (
	EscrowActionRelease EscrowAction = "release"
	EscrowActionRefund  EscrowAction = "refund"
)

// EscrowResolvedEvent announces that a sub-order's escrow reached a terminal
// state, so the seller can be told their funds were released or the buyer
// refunded.
type EscrowResolvedEvent struct {
	EventID    string       `json:"event_id"`
	SubOrderID string       `json:"sub_order_id"`
	OrderID    string       `json:"order_id"`
	StoreID    string       `json:"store_id"`
	Action     EscrowAction `json:"action"`
	Amount     int64        `json:"amount"`
	Reason     string       `json:"reason,omitempty"`
	ResolvedAt time.Time    `json:"resolved_at"`
}
