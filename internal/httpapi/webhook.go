package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vendora/settlement-service/internal/order"
)

// SignatureHeader carries the shared webhook secret the gateway echoes on
// every delivery. Checked before anything else, including database access.
const SignatureHeader = "verif-hash"

// flexibleID accepts both the numeric and string transaction ids the
// gateway emits across payload versions.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// inboundEvent is the minimal shape pulled from the gateway's webhook body.
// Only the transaction id matters; every other claim in the payload is
// ignored and re-fetched from the gateway.
type inboundEvent struct {
	Event string     `json:"event"`
	ID    flexibleID `json:"id"`
	Data  struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

func (e inboundEvent) transactionID() string {
	if e.Data.ID != "" {
		return string(e.Data.ID)
	}
	return string(e.ID)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.ObserveWebhook(outcome, time.Since(start))
	}()

	sig := r.Header.Get(SignatureHeader)
	if s.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(sig), []byte(s.webhookSecret)) != 1 {
		outcome = "bad_signature"
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var evt inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	txID := evt.transactionID()
	if txID == "" {
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, "transaction id missing")
		return
	}

	// Verification happens before the settlement transaction opens, so the
	// transaction never waits on the network.
	vt, err := s.verifier.Verify(r.Context(), txID)
	if err != nil {
		outcome = "verification_failed"
		s.logger.Warn("transaction verification failed", "transaction_id", txID, "err", err)
		writeError(w, http.StatusInternalServerError, "transaction could not be verified")
		return
	}

	if vt.OrderID == "" || vt.IdempotencyKey == "" {
		outcome = "invalid_payload"
		writeError(w, http.StatusBadRequest, "transaction metadata missing order reference")
		return
	}

	res, err := s.settler.Settle(r.Context(), *vt)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			outcome = "order_not_found"
			// Checkout should have persisted this order; surfaced
			// distinctly for operator alerting.
			s.logger.Error("webhook for unknown order", "transaction_id", txID, "order_id", vt.OrderID)
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		outcome = "aborted"
		s.logger.Error("settlement aborted", "transaction_id", txID, "order_id", vt.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	switch res.Outcome {
	case order.OutcomeSettled:
		outcome = "settled"
	case order.OutcomeAlreadyPaid:
		outcome = "replayed"
	case order.OutcomeAlreadyTerminal:
		outcome = "dropped_terminal"
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": res.Message})
}
