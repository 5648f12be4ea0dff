package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendora/settlement-service/internal/order"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type QueueFilter struct {
	StoreID *uuid.UUID
	Page    int
	Limit   int
}

func (f QueueFilter) normalized() QueueFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}
	return f
}

type QueueItem struct {
	SubOrderID        string               `json:"sub_order_id"`
	OrderID           string               `json:"order_id"`
	StoreID           string               `json:"store_id"`
	StoreName         string               `json:"store_name,omitempty"`
	Amount            int64                `json:"amount"`
	DeliveryStatus    order.DeliveryStatus `json:"delivery_status"`
	DeliveredAt       *time.Time           `json:"delivered_at,omitempty"`
	ReturnWindowEnded *time.Time           `json:"return_window_ended_at,omitempty"`
	DaysOverdue       int                  `json:"days_overdue,omitempty"`
	RefundRequestDate *time.Time           `json:"refund_request_date,omitempty"`
	RefundReason      string               `json:"refund_reason,omitempty"`
}

type QueueSummary struct {
	Count       int   `json:"count"`
	TotalAmount int64 `json:"total_amount"`
}

type QueuePage struct {
	Items   []QueueItem  `json:"items"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	Summary QueueSummary `json:"summary"`
}

// daysOverdue is whole days elapsed since the return window closed.
func daysOverdue(windowEnd *time.Time, now time.Time) int {
	if windowEnd == nil || now.Before(*windowEnd) {
		return 0
	}
	return int(now.Sub(*windowEnd) / (24 * time.Hour))
}

// ReleaseQueue lists sub-orders whose escrow is releasable: delivered, held,
// unresolved, return window elapsed. Oldest-eligible first so stale cases
// surface at the top of the admin dashboard.
func (s *Service) ReleaseQueue(ctx context.Context, filter QueueFilter) (*QueuePage, error) {
	filter = filter.normalized()
	where := `
		so.delivery_status = 'delivered'
		AND so.escrow_held AND NOT so.escrow_released AND NOT so.escrow_refunded
		AND so.return_window_ends_at <= NOW()`
	args := []any{}
	if filter.StoreID != nil {
		args = append(args, *filter.StoreID)
		where += fmt.Sprintf(" AND so.store_id = $%d", len(args))
	}

	summary, err := s.queueSummary(ctx, where, args)
	if err != nil {
		return nil, err
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT so.id, so.order_id, so.store_id, COALESCE(st.name, ''), so.amount,
		       so.delivery_status, so.delivered_at, so.return_window_ends_at
		FROM sub_orders so
		LEFT JOIN stores st ON st.id = so.store_id
		WHERE %s
		ORDER BY so.return_window_ends_at
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query release queue: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	page := &QueuePage{Page: filter.Page, Limit: filter.Limit, Summary: summary}
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(
			&item.SubOrderID, &item.OrderID, &item.StoreID, &item.StoreName, &item.Amount,
			&item.DeliveryStatus, &item.DeliveredAt, &item.ReturnWindowEnded,
		); err != nil {
			return nil, err
		}
		item.DaysOverdue = daysOverdue(item.ReturnWindowEnded, now)
		page.Items = append(page.Items, item)
	}
	return page, rows.Err()
}

// RefundQueue lists sub-orders awaiting a refund decision: delivery ended in
// a refund-eligible status and the escrow is still held and unresolved.
func (s *Service) RefundQueue(ctx context.Context, filter QueueFilter) (*QueuePage, error) {
	filter = filter.normalized()
	where := `
		so.delivery_status IN ('canceled', 'returned', 'failed_delivery')
		AND so.escrow_held AND NOT so.escrow_released AND NOT so.escrow_refunded`
	args := []any{}
	if filter.StoreID != nil {
		args = append(args, *filter.StoreID)
		where += fmt.Sprintf(" AND so.store_id = $%d", len(args))
	}

	summary, err := s.queueSummary(ctx, where, args)
	if err != nil {
		return nil, err
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT so.id, so.order_id, so.store_id, COALESCE(st.name, ''), so.amount,
		       so.delivery_status, so.refund_request_date, COALESCE(so.refund_reason, '')
		FROM sub_orders so
		LEFT JOIN stores st ON st.id = so.store_id
		WHERE %s
		ORDER BY so.refund_request_date NULLS LAST
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query refund queue: %w", err)
	}
	defer rows.Close()

	page := &QueuePage{Page: filter.Page, Limit: filter.Limit, Summary: summary}
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(
			&item.SubOrderID, &item.OrderID, &item.StoreID, &item.StoreName, &item.Amount,
			&item.DeliveryStatus, &item.RefundRequestDate, &item.RefundReason,
		); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, rows.Err()
}

func (s *Service) queueSummary(ctx context.Context, where string, args []any) (QueueSummary, error) {
	var summary QueueSummary
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(so.amount), 0)
		FROM sub_orders so
		WHERE %s`, where),
		args...,
	).Scan(&summary.Count, &summary.TotalAmount)
	if err != nil {
		return summary, fmt.Errorf("queue summary: %w", err)
	}
	return summary, nil
}

// WalletBalance reads a seller's current wallet balance. Stores that never
// received a release have a zero balance, not a missing row error.
func (s *Service) WalletBalance(ctx context.Context, storeID uuid.UUID) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `
		SELECT balance FROM wallets WHERE store_id = $1`, storeID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read wallet: %w", err)
	}
	return balance, nil
}
