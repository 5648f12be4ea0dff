package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers a single notification. Implementations report success as
// a boolean and never propagate transport errors; notification delivery is
// a best-effort boundary and must not influence settlement outcomes.
type Sender interface {
	Send(ctx context.Context, recipient, subject, html, text string) bool
}

// MailerClient posts notifications to the mailer service's send endpoint.
type MailerClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewMailerClient(baseURL string, timeout time.Duration, logger *slog.Logger) *MailerClient {
	return &MailerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (c *MailerClient) Send(ctx context.Context, recipient, subject, html, text string) bool {
	body, err := json.Marshal(sendRequest{To: recipient, Subject: subject, HTML: html, Text: text})
	if err != nil {
		c.logger.Error("marshal notification", "err", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build notification request", "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("send notification failed", "recipient", recipient, "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("mailer rejected notification", "recipient", recipient, "status", resp.StatusCode)
		return false
	}
	return true
}

var _ Sender = (*MailerClient)(nil)

func formatAmount(minor int64, currency string) string {
	if currency == "" {
		currency = "NGN"
	}
	return fmt.Sprintf("%s %d.%02d", currency, minor/100, minor%100)
}
