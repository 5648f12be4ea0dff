// Package cart talks to the cart service. Clearing a cart after payment is
// a best-effort convenience; the caller logs failures and moves on.
package cart

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ClearCart empties the buyer's cart. A 404 counts as success: an absent or
// already-empty cart is the state we wanted.
func (c *Client) ClearCart(ctx context.Context, userID uuid.UUID) error {
	endpoint := fmt.Sprintf("%s/internal/carts/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build cart request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call cart service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cart service returned %d", resp.StatusCode)
	}
	return nil
}
