package order

// ReplayDecision is the idempotency guard's verdict for an inbound
// settlement event. The gateway delivers webhooks at least once, so the
// same event may arrive any number of times, concurrently or late.
type ReplayDecision int

const (
	// Proceed: the key matches a pending order; apply the settlement.
	Proceed ReplayDecision = iota
	// AlreadyPaid: terminal success already applied; report success, do
	// not re-run side effects.
	AlreadyPaid
	// AlreadyTerminal: the order failed or was cancelled; a late success
	// event never resurrects it.
	AlreadyTerminal
	// KeyMismatch: the event does not belong to this order's current
	// checkout attempt; treat it like an unknown order.
	KeyMismatch
)

// DecideReplay evaluates an inbound idempotency key against the order's
// stored key and payment status. Callers must hold the order row lock so
// two concurrent deliveries serialize through this decision.
func DecideReplay(storedKey, inboundKey string, status PaymentStatus) ReplayDecision {
	if storedKey == "" || storedKey != inboundKey {
		return KeyMismatch
	}
	switch status {
	case PaymentPaid:
		return AlreadyPaid
	case PaymentFailed, PaymentCancelled:
		return AlreadyTerminal
	}
	return Proceed
}
