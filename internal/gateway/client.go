// Package gateway re-verifies claimed payment transactions against the
// payment provider's server-to-server API. The inbound webhook body is never
// trusted on its own.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrVerificationFailed covers every way a transaction can fail to verify:
// the gateway reports non-success, the response is malformed, or the call
// itself errors or times out. Callers reject the webhook and let the
// gateway's own retry mechanism re-deliver.
var ErrVerificationFailed = errors.New("transaction verification failed")

// VerifiedTransaction is the gateway's authoritative view of a successful
// transaction.
type VerifiedTransaction struct {
	ID             string
	Amount         int64
	Currency       string
	PaymentMethod  string
	OrderID        string
	IdempotencyKey string
}

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		ID          json.Number `json:"id"`
		Status      string      `json:"status"`
		Amount      int64       `json:"amount"`
		Currency    string      `json:"currency"`
		PaymentType string      `json:"payment_type"`
		Meta        struct {
			OrderID        string `json:"order_id"`
			IdempotencyKey string `json:"idempotency_key"`
		} `json:"meta"`
	} `json:"data"`
}

// Verify fetches the transaction from the gateway's verification endpoint.
// Both the outer response status and the inner transaction status must
// independently indicate success.
func (c *Client) Verify(ctx context.Context, transactionID string) (*VerifiedTransaction, error) {
	endpoint := fmt.Sprintf("%s/v3/transactions/%s/verify", c.baseURL, url.PathEscape(transactionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrVerificationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call gateway: %w", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrVerificationFailed, resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrVerificationFailed, err)
	}

	if body.Status != "success" {
		return nil, fmt.Errorf("%w: response status %q", ErrVerificationFailed, body.Status)
	}
	if body.Data.Status != "successful" {
		return nil, fmt.Errorf("%w: transaction status %q", ErrVerificationFailed, body.Data.Status)
	}

	return &VerifiedTransaction{
		ID:             body.Data.ID.String(),
		Amount:         body.Data.Amount,
		Currency:       body.Data.Currency,
		PaymentMethod:  body.Data.PaymentType,
		OrderID:        body.Data.Meta.OrderID,
		IdempotencyKey: body.Data.Meta.IdempotencyKey,
	}, nil
}
