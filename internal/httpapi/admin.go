package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"vendora/settlement-service/internal/escrow"
	"vendora/settlement-service/internal/order"

	"github.com/google/uuid"
)

func adminActor(r *http.Request) (string, error) {
	actor := r.Header.Get("X-Admin-ID")
	if actor == "" {
		return "", errors.New("missing X-Admin-ID header")
	}
	return actor, nil
}

func queueFilterFromRequest(r *http.Request) (escrow.QueueFilter, error) {
	q := r.URL.Query()
	filter := escrow.QueueFilter{}

	if raw := q.Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("invalid page")
		}
		filter.Page = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = v
	}
	if raw := q.Get("store_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("invalid store_id")
		}
		filter.StoreID = &id
	}
	return filter, nil
}

func (s *Server) releaseQueue(w http.ResponseWriter, r *http.Request) {
	filter, err := queueFilterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.escrow.ReleaseQueue(r.Context(), filter)
	if err != nil {
		s.logger.Error("release queue", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) refundQueue(w http.ResponseWriter, r *http.Request) {
	filter, err := queueFilterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.escrow.RefundQueue(r.Context(), filter)
	if err != nil {
		s.logger.Error("refund queue", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	actor, err := adminActor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subOrderID, err := uuid.Parse(r.PathValue("subOrderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sub-order id")
		return
	}

	if err := s.escrow.Release(r.Context(), subOrderID, actor); err != nil {
		s.metrics.ObserveEscrowAction("release", escrowResult(err))
		s.writeEscrowError(w, err, "release escrow")
		return
	}

	s.metrics.ObserveEscrowAction("release", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"message": "escrow released"})
}

func (s *Server) refundEscrow(w http.ResponseWriter, r *http.Request) {
	actor, err := adminActor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subOrderID, err := uuid.Parse(r.PathValue("subOrderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sub-order id")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Reason == "" {
		writeError(w, http.StatusBadRequest, "refund reason is required")
		return
	}

	if err := s.escrow.Refund(r.Context(), subOrderID, body.Reason, actor); err != nil {
		s.metrics.ObserveEscrowAction("refund", escrowResult(err))
		s.writeEscrowError(w, err, "refund escrow")
		return
	}

	s.metrics.ObserveEscrowAction("refund", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"message": "escrow refunded"})
}

func (s *Server) setDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := adminActor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subOrderID, err := uuid.Parse(r.PathValue("subOrderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sub-order id")
		return
	}

	var body struct {
		Status order.DeliveryStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch body.Status {
	case order.DeliveryShipped, order.DeliveryDelivered, order.DeliveryCanceled, order.DeliveryReturned, order.DeliveryFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown delivery status")
		return
	}

	if err := s.escrow.SetDeliveryStatus(r.Context(), subOrderID, body.Status, actor); err != nil {
		s.writeEscrowError(w, err, "set delivery status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "delivery status updated"})
}

func (s *Server) walletBalance(w http.ResponseWriter, r *http.Request) {
	storeID, err := uuid.Parse(r.PathValue("storeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid store id")
		return
	}

	balance, err := s.escrow.WalletBalance(r.Context(), storeID)
	if err != nil {
		s.logger.Error("wallet balance", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store_id": storeID, "balance": balance})
}

func escrowResult(err error) string {
	switch {
	case errors.Is(err, escrow.ErrStateConflict):
		return "conflict"
	case errors.Is(err, escrow.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, escrow.ErrSubOrderNotFound):
		return "not_found"
	default:
		return "error"
	}
}
