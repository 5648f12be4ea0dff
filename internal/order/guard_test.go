package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideReplay(t *testing.T) {
	tests := []struct {
		name       string
		storedKey  string
		inboundKey string
		status     PaymentStatus
		want       ReplayDecision
	}{
		{
			name:       "pending order with matching key proceeds",
			storedKey:  "abc123",
			inboundKey: "abc123",
			status:     PaymentPending,
			want:       Proceed,
		},
		{
			name:       "paid order reports already paid",
			storedKey:  "abc123",
			inboundKey: "abc123",
			status:     PaymentPaid,
			want:       AlreadyPaid,
		},
		{
			name:       "cancelled order is never resurrected by a late success",
			storedKey:  "abc123",
			inboundKey: "abc123",
			status:     PaymentCancelled,
			want:       AlreadyTerminal,
		},
		{
			name:       "failed order is terminal",
			storedKey:  "abc123",
			inboundKey: "abc123",
			status:     PaymentFailed,
			want:       AlreadyTerminal,
		},
		{
			name:       "key mismatch rejects regardless of status",
			storedKey:  "abc123",
			inboundKey: "other",
			status:     PaymentPending,
			want:       KeyMismatch,
		},
		{
			name:       "empty stored key never matches",
			storedKey:  "",
			inboundKey: "",
			status:     PaymentPending,
			want:       KeyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideReplay(tt.storedKey, tt.inboundKey, tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentPending.Terminal())
	assert.True(t, PaymentPaid.Terminal())
	assert.True(t, PaymentFailed.Terminal())
	assert.True(t, PaymentCancelled.Terminal())
}

func TestEscrowResolved(t *testing.T) {
	assert.False(t, Escrow{Held: true}.Resolved())
	assert.True(t, Escrow{Held: true, Released: true}.Resolved())
	assert.True(t, Escrow{Held: true, Refunded: true}.Resolved())
}

func TestDeliveryStatusRefundEligible(t *testing.T) {
	eligible := []DeliveryStatus{DeliveryCanceled, DeliveryReturned, DeliveryFailed}
	for _, s := range eligible {
		assert.True(t, s.RefundEligible(), string(s))
	}
	for _, s := range []DeliveryStatus{DeliveryPending, DeliveryShipped, DeliveryDelivered} {
		assert.False(t, s.RefundEligible(), string(s))
	}
}
