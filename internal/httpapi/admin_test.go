package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vendora/settlement-service/internal/escrow"
	"vendora/settlement-service/internal/order"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeEscrow struct {
	releaseErr error
	refundErr  error
	released   []uuid.UUID
	refunded   []uuid.UUID
	reasons    []string
	queue      *escrow.QueuePage
}

func (f *fakeEscrow) Release(ctx context.Context, subOrderID uuid.UUID, actor string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, subOrderID)
	return nil
}

func (f *fakeEscrow) Refund(ctx context.Context, subOrderID uuid.UUID, reason, actor string) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunded = append(f.refunded, subOrderID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeEscrow) ReleaseQueue(ctx context.Context, filter escrow.QueueFilter) (*escrow.QueuePage, error) {
	return f.queue, nil
}

func (f *fakeEscrow) RefundQueue(ctx context.Context, filter escrow.QueueFilter) (*escrow.QueuePage, error) {
	return f.queue, nil
}

func (f *fakeEscrow) ConfirmDelivery(ctx context.Context, userID, subOrderID uuid.UUID) error {
	return nil
}

func (f *fakeEscrow) SetDeliveryStatus(ctx context.Context, subOrderID uuid.UUID, to order.DeliveryStatus, actor string) error {
	return nil
}

func (f *fakeEscrow) WalletBalance(ctx context.Context, storeID uuid.UUID) (int64, error) {
	return 0, nil
}

func adminServer(esc EscrowAPI) *Server {
	return NewServer(nil, esc, nil, nil, testSecret, nil, slog.New(slog.DiscardHandler))
}

func TestReleaseEscrowEndpoint(t *testing.T) {
	subOrderID := uuid.New()

	tests := []struct {
		name       string
		releaseErr error
		wantStatus int
	}{
		{"release succeeds", nil, http.StatusOK},
		{"state conflict surfaces as 409", escrow.ErrStateConflict, http.StatusConflict},
		{"not eligible surfaces as 409", escrow.ErrNotEligible, http.StatusConflict},
		{"unknown sub-order is 404", escrow.ErrSubOrderNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			esc := &fakeEscrow{releaseErr: tt.releaseErr}
			srv := adminServer(esc)

			req := httptest.NewRequest(http.MethodPost,
				fmt.Sprintf("/admin/sub-orders/%s/release", subOrderID), nil)
			req.Header.Set("X-Admin-ID", "admin-1")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestReleaseEscrowRequiresActor(t *testing.T) {
	srv := adminServer(&fakeEscrow{})

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/admin/sub-orders/%s/release", uuid.New()), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundEscrowEndpoint(t *testing.T) {
	subOrderID := uuid.New()

	t.Run("refund records the reason", func(t *testing.T) {
		esc := &fakeEscrow{}
		srv := adminServer(esc)

		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/admin/sub-orders/%s/refund", subOrderID),
			strings.NewReader(`{"reason":"item damaged"}`))
		req.Header.Set("X-Admin-ID", "admin-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"item damaged"}, esc.reasons)
	})

	t.Run("refund without reason is rejected", func(t *testing.T) {
		srv := adminServer(&fakeEscrow{})

		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/admin/sub-orders/%s/refund", subOrderID),
			strings.NewReader(`{}`))
		req.Header.Set("X-Admin-ID", "admin-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("double refund conflicts", func(t *testing.T) {
		srv := adminServer(&fakeEscrow{refundErr: escrow.ErrStateConflict})

		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/admin/sub-orders/%s/refund", subOrderID),
			strings.NewReader(`{"reason":"item damaged"}`))
		req.Header.Set("X-Admin-ID", "admin-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestQueueEndpointFilterValidation(t *testing.T) {
	srv := adminServer(&fakeEscrow{queue: &escrow.QueuePage{Page: 1, Limit: 50}})

	req := httptest.NewRequest(http.MethodGet, "/admin/escrow/release-queue?store_id=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/escrow/refund-queue?page=2&limit=10", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
