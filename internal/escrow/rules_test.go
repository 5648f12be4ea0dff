package escrow

import (
	"testing"
	"time"

	"vendora/settlement-service/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subOrder(status order.DeliveryStatus, esc order.Escrow, windowEnd *time.Time) order.SubOrder {
	return order.SubOrder{
		ID:                 "sub-1",
		OrderID:            "order-1",
		StoreID:            "store-1",
		Amount:             2500,
		DeliveryStatus:     status,
		Escrow:             esc,
		ReturnWindowEndsAt: windowEnd,
	}
}

func TestCanRelease(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		sub     order.SubOrder
		wantErr error
	}{
		{
			name: "delivered with expired window releases",
			sub:  subOrder(order.DeliveryDelivered, order.Escrow{Held: true}, &past),
		},
		{
			name:    "already released conflicts",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{Held: true, Released: true}, &past),
			wantErr: ErrStateConflict,
		},
		{
			name:    "already refunded conflicts",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{Held: true, Refunded: true}, &past),
			wantErr: ErrStateConflict,
		},
		{
			name:    "funds not held conflicts",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{}, &past),
			wantErr: ErrStateConflict,
		},
		{
			name:    "delivery not confirmed is not eligible",
			sub:     subOrder(order.DeliveryShipped, order.Escrow{Held: true}, &past),
			wantErr: ErrNotEligible,
		},
		{
			name:    "return window still open is not eligible",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{Held: true}, &future),
			wantErr: ErrNotEligible,
		},
		{
			name:    "missing window is not eligible",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{Held: true}, nil),
			wantErr: ErrNotEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanRelease(tt.sub, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCanRefund(t *testing.T) {
	tests := []struct {
		name    string
		sub     order.SubOrder
		wantErr error
	}{
		{
			name: "canceled held sub-order refunds",
			sub:  subOrder(order.DeliveryCanceled, order.Escrow{Held: true}, nil),
		},
		{
			name: "returned held sub-order refunds",
			sub:  subOrder(order.DeliveryReturned, order.Escrow{Held: true}, nil),
		},
		{
			name: "failed delivery refunds",
			sub:  subOrder(order.DeliveryFailed, order.Escrow{Held: true}, nil),
		},
		{
			name:    "already released conflicts",
			sub:     subOrder(order.DeliveryCanceled, order.Escrow{Held: true, Released: true}, nil),
			wantErr: ErrStateConflict,
		},
		{
			name:    "second refund attempt conflicts",
			sub:     subOrder(order.DeliveryCanceled, order.Escrow{Held: true, Refunded: true}, nil),
			wantErr: ErrStateConflict,
		},
		{
			name:    "delivered sub-order is not refund eligible",
			sub:     subOrder(order.DeliveryDelivered, order.Escrow{Held: true}, nil),
			wantErr: ErrNotEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanRefund(tt.sub)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

// The mutual exclusion invariant: no reachable pair of decisions allows a
// sub-order to be both released and refunded.
func TestReleaseRefundMutualExclusion(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	released := subOrder(order.DeliveryCanceled, order.Escrow{Held: true, Released: true}, &past)
	require.ErrorIs(t, CanRefund(released), ErrStateConflict)

	refunded := subOrder(order.DeliveryDelivered, order.Escrow{Held: true, Refunded: true}, &past)
	require.ErrorIs(t, CanRelease(refunded, now), ErrStateConflict)
}

func TestCanTransitionDelivery(t *testing.T) {
	allowed := []struct{ from, to order.DeliveryStatus }{
		{order.DeliveryPending, order.DeliveryShipped},
		{order.DeliveryPending, order.DeliveryCanceled},
		{order.DeliveryShipped, order.DeliveryDelivered},
		{order.DeliveryShipped, order.DeliveryReturned},
		{order.DeliveryShipped, order.DeliveryFailed},
		{order.DeliveryDelivered, order.DeliveryReturned},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransitionDelivery(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to order.DeliveryStatus }{
		{order.DeliveryPending, order.DeliveryDelivered},
		{order.DeliveryDelivered, order.DeliveryShipped},
		{order.DeliveryCanceled, order.DeliveryShipped},
		{order.DeliveryReturned, order.DeliveryDelivered},
		{order.DeliveryFailed, order.DeliveryPending},
	}
	for _, tr := range denied {
		assert.False(t, CanTransitionDelivery(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestDaysOverdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	threeDaysAgo := now.AddDate(0, 0, -3)
	assert.Equal(t, 3, daysOverdue(&threeDaysAgo, now))

	future := now.Add(time.Hour)
	assert.Equal(t, 0, daysOverdue(&future, now))

	assert.Equal(t, 0, daysOverdue(nil, now))
}
