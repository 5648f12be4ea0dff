// Package escrow owns the per-sub-order funds lifecycle: held after
// settlement, then released to the seller or refunded to the buyer, never
// both.
package escrow

import (
	"errors"
	"fmt"
	"time"

	"vendora/settlement-service/internal/order"
)

var (
	ErrSubOrderNotFound = errors.New("sub-order not found")

	// ErrStateConflict: the held/released/refunded invariant forbids the
	// attempted transition. Surfaced to the acting admin, never swallowed.
	ErrStateConflict = errors.New("escrow state conflict")

	// ErrNotEligible: the escrow state allows the action in principle but
	// the delivery status or return window does not yet.
	ErrNotEligible = errors.New("sub-order not eligible")

	ErrInvalidTransition = errors.New("invalid delivery transition")
)

// CanRelease decides whether a sub-order's escrow may be released to the
// seller right now: funds held and unresolved, delivery confirmed, and the
// return window elapsed without a refund claim.
func CanRelease(sub order.SubOrder, now time.Time) error {
	if sub.Escrow.Released {
		return fmt.Errorf("%w: already released", ErrStateConflict)
	}
	if sub.Escrow.Refunded {
		return fmt.Errorf("%w: already refunded", ErrStateConflict)
	}
	if !sub.Escrow.Held {
		return fmt.Errorf("%w: funds not held", ErrStateConflict)
	}
	if sub.DeliveryStatus != order.DeliveryDelivered {
		return fmt.Errorf("%w: delivery not confirmed", ErrNotEligible)
	}
	if sub.ReturnWindowEndsAt == nil || now.Before(*sub.ReturnWindowEndsAt) {
		return fmt.Errorf("%w: return window still open", ErrNotEligible)
	}
	return nil
}

// CanRefund decides whether a sub-order's escrow may be refunded to the
// buyer: funds held and unresolved, and the delivery ended in a
// refund-eligible terminal status.
func CanRefund(sub order.SubOrder) error {
	if sub.Escrow.Released {
		return fmt.Errorf("%w: already released", ErrStateConflict)
	}
	if sub.Escrow.Refunded {
		return fmt.Errorf("%w: already refunded", ErrStateConflict)
	}
	if !sub.Escrow.Held {
		return fmt.Errorf("%w: funds not held", ErrStateConflict)
	}
	if !sub.DeliveryStatus.RefundEligible() {
		return fmt.Errorf("%w: delivery status %q does not permit a refund", ErrNotEligible, sub.DeliveryStatus)
	}
	return nil
}

var deliveryTransitions = map[order.DeliveryStatus][]order.DeliveryStatus{
	order.DeliveryPending:   {order.DeliveryShipped, order.DeliveryCanceled},
	order.DeliveryShipped:   {order.DeliveryDelivered, order.DeliveryReturned, order.DeliveryFailed},
	order.DeliveryDelivered: {order.DeliveryReturned},
}

// CanTransitionDelivery reports whether a delivery status change is allowed.
// Canceled, returned and failed_delivery are terminal apart from the refund
// they unlock.
func CanTransitionDelivery(from, to order.DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
