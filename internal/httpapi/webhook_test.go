package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vendora/settlement-service/internal/gateway"
	"vendora/settlement-service/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type fakeVerifier struct {
	vt    *gateway.VerifiedTransaction
	err   error
	calls int
}

func (f *fakeVerifier) Verify(ctx context.Context, transactionID string) (*gateway.VerifiedTransaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vt, nil
}

type fakeSettler struct {
	res   order.SettleResult
	err   error
	calls int
	got   []gateway.VerifiedTransaction
}

func (f *fakeSettler) Settle(ctx context.Context, vt gateway.VerifiedTransaction) (order.SettleResult, error) {
	f.calls++
	f.got = append(f.got, vt)
	if f.err != nil {
		return order.SettleResult{}, f.err
	}
	return f.res, nil
}

func webhookServer(v Verifier, st Settler) *Server {
	return NewServer(nil, nil, v, st, testSecret, nil, slog.New(slog.DiscardHandler))
}

func postWebhook(srv *Server, signature, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func verifiedTx() *gateway.VerifiedTransaction {
	return &gateway.VerifiedTransaction{
		ID:             "4093042",
		Amount:         12500,
		Currency:       "NGN",
		PaymentMethod:  "card",
		OrderID:        "2f6f0b74-9a3f-4a7d-98f2-11a6a1d77f01",
		IdempotencyKey: "abc123",
	}
}

const wellFormedBody = `{"event":"charge.completed","data":{"id":4093042}}`

func TestWebhookSignatureGate(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"missing signature", ""},
		{"wrong signature", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &fakeVerifier{vt: verifiedTx()}
			settler := &fakeSettler{}
			srv := webhookServer(verifier, settler)

			rec := postWebhook(srv, tt.signature, wellFormedBody)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Zero(t, verifier.calls, "rejected before any verification")
			assert.Zero(t, settler.calls, "rejected before any settlement")
		})
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{not json`},
		{"missing transaction id", `{"event":"charge.completed","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &fakeVerifier{vt: verifiedTx()}
			settler := &fakeSettler{}
			srv := webhookServer(verifier, settler)

			rec := postWebhook(srv, testSecret, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, verifier.calls)
			assert.Zero(t, settler.calls)
		})
	}
}

func TestWebhookTopLevelTransactionID(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{res: order.SettleResult{Outcome: order.OutcomeSettled, Message: "payment confirmed"}}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, `{"event":"charge.completed","id":"tx-771"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, verifier.calls)
}

func TestWebhookVerificationIndependence(t *testing.T) {
	// A well-formed, correctly signed payload claiming success must still
	// be rejected when the gateway does not confirm the transaction.
	verifier := &fakeVerifier{err: gateway.ErrVerificationFailed}
	settler := &fakeSettler{}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, verifier.calls)
	assert.Zero(t, settler.calls, "no order mutation on failed verification")
}

func TestWebhookMissingMetadata(t *testing.T) {
	vt := verifiedTx()
	vt.IdempotencyKey = ""
	verifier := &fakeVerifier{vt: vt}
	settler := &fakeSettler{}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, settler.calls)
}

func TestWebhookOrderNotFound(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{err: order.ErrOrderNotFound}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookSettlementAbort(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{err: errors.New("deadlock detected")}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	// 500 invites the gateway's retry; the retry re-enters the
	// idempotency guard, so replays stay harmless.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookSettles(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{res: order.SettleResult{Outcome: order.OutcomeSettled, Message: "payment confirmed"}}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, settler.calls)
	assert.Equal(t, *verifiedTx(), settler.got[0])
	assert.Contains(t, rec.Body.String(), "payment confirmed")
}

func TestWebhookReplayIsInformationalSuccess(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{res: order.SettleResult{
		Outcome: order.OutcomeAlreadyPaid,
		Message: "already processed: order already paid",
	}}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already processed")
}

func TestWebhookDroppedTerminalStaysCancelled(t *testing.T) {
	verifier := &fakeVerifier{vt: verifiedTx()}
	settler := &fakeSettler{res: order.SettleResult{
		Outcome: order.OutcomeAlreadyTerminal,
		Message: "already processed: order is cancelled",
	}}
	srv := webhookServer(verifier, settler)

	rec := postWebhook(srv, testSecret, wellFormedBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelled")
}
