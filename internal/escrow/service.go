package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vendora/settlement-service/internal/contracts"
	"vendora/settlement-service/internal/order"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	actorScheduler = "scheduler"
)

type Service struct {
	pool         *pgxpool.Pool
	returnWindow time.Duration
	logger       *slog.Logger
}

func NewService(pool *pgxpool.Pool, returnWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		pool:         pool,
		returnWindow: returnWindow,
		logger:       logger,
	}
}

func (s *Service) lockSubOrder(ctx context.Context, tx pgx.Tx, subOrderID uuid.UUID) (order.SubOrder, error) {
	var sub order.SubOrder
	err := tx.QueryRow(ctx, `
		SELECT id, order_id, store_id, amount, delivery_status,
		       escrow_held, escrow_released, escrow_refunded, COALESCE(refund_reason, ''),
		       shipped_at, delivered_at, return_window_ends_at, refund_request_date
		FROM sub_orders
		WHERE id = $1
		FOR UPDATE`,
		subOrderID,
	).Scan(
		&sub.ID, &sub.OrderID, &sub.StoreID, &sub.Amount, &sub.DeliveryStatus,
		&sub.Escrow.Held, &sub.Escrow.Released, &sub.Escrow.Refunded, &sub.Escrow.RefundReason,
		&sub.ShippedAt, &sub.DeliveredAt, &sub.ReturnWindowEndsAt, &sub.RefundRequestDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sub, ErrSubOrderNotFound
		}
		return sub, fmt.Errorf("lock sub-order: %w", err)
	}
	return sub, nil
}

// Release moves a sub-order's escrowed funds to the seller's wallet. The
// three-way held/released/refunded check runs twice: once on the locked row
// and again as a guard on the UPDATE itself, so a racing refund can never
// slip between the read and the write. Not reversible.
func (s *Service) Release(ctx context.Context, subOrderID uuid.UUID, actor string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sub, err := s.lockSubOrder(ctx, tx, subOrderID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := CanRelease(sub, now); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sub_orders
		SET escrow_released = TRUE, updated_at = $2
		WHERE id = $1
		  AND escrow_held AND NOT escrow_released AND NOT escrow_refunded`,
		subOrderID, now,
	)
	if err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent escrow mutation", ErrStateConflict)
	}

	storeID, err := uuid.Parse(sub.StoreID)
	if err != nil {
		return fmt.Errorf("invalid store id on sub-order %s: %w", sub.ID, err)
	}

	// Credit the seller's wallet inside the same transaction and record
	// the movement for financial traceability.
	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (store_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
		storeID, sub.Amount, now,
	)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}

	ledgerID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, store_id, sub_order_id, amount, reference)
		VALUES ($1, $2, $3, $4, $5)`,
		ledgerID, storeID, subOrderID, sub.Amount, "escrow-release",
	)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	if err := s.audit(ctx, tx, subOrderID, contracts.EscrowActionRelease, sub.Amount, actor, ""); err != nil {
		return err
	}
	if err := s.enqueueResolved(ctx, tx, sub, contracts.EscrowActionRelease, "", now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("escrow released",
		"sub_order_id", subOrderID, "store_id", storeID,
		"amount", sub.Amount, "ledger_id", ledgerID, "actor", actor)
	return nil
}

// Refund marks a sub-order's escrowed funds as returned to the buyer. Only
// valid after a canceled, returned or failed delivery. Not reversible.
func (s *Service) Refund(ctx context.Context, subOrderID uuid.UUID, reason, actor string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sub, err := s.lockSubOrder(ctx, tx, subOrderID)
	if err != nil {
		return err
	}

	if err := CanRefund(sub); err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE sub_orders
		SET escrow_refunded = TRUE, refund_reason = $2, updated_at = $3
		WHERE id = $1
		  AND escrow_held AND NOT escrow_released AND NOT escrow_refunded`,
		subOrderID, reason, now,
	)
	if err != nil {
		return fmt.Errorf("refund escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent escrow mutation", ErrStateConflict)
	}

	if err := s.audit(ctx, tx, subOrderID, contracts.EscrowActionRefund, sub.Amount, actor, reason); err != nil {
		return err
	}
	if err := s.enqueueResolved(ctx, tx, sub, contracts.EscrowActionRefund, reason, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("escrow refunded",
		"sub_order_id", subOrderID, "amount", sub.Amount, "reason", reason, "actor", actor)
	return nil
}

func (s *Service) audit(ctx context.Context, tx pgx.Tx, subOrderID uuid.UUID, action contracts.EscrowAction, amount int64, actor, reason string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_audit (sub_order_id, action, amount, actor, reason)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		subOrderID, action, amount, actor, reason,
	)
	if err != nil {
		return fmt.Errorf("insert escrow audit: %w", err)
	}
	return nil
}

func (s *Service) enqueueResolved(ctx context.Context, tx pgx.Tx, sub order.SubOrder, action contracts.EscrowAction, reason string, now time.Time) error {
	event := contracts.EscrowResolvedEvent{
		EventID:    uuid.NewString(),
		SubOrderID: sub.ID,
		OrderID:    sub.OrderID,
		StoreID:    sub.StoreID,
		Action:     action,
		Amount:     sub.Amount,
		Reason:     reason,
		ResolvedAt: now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal escrow event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO settlement_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		event.EventID, contracts.EventEscrowResolved, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// ConfirmDelivery is the buyer's confirmation that the sub-order arrived.
// It starts the return window.
func (s *Service) ConfirmDelivery(ctx context.Context, userID, subOrderID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var owner uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT o.user_id
		FROM sub_orders so
		JOIN orders o ON o.id = so.order_id
		WHERE so.id = $1`,
		subOrderID,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSubOrderNotFound
		}
		return fmt.Errorf("load sub-order owner: %w", err)
	}
	if owner != userID {
		return ErrSubOrderNotFound
	}

	now := time.Now().UTC()
	windowEnd := now.Add(s.returnWindow)
	tag, err := tx.Exec(ctx, `
		UPDATE sub_orders
		SET delivery_status = $2, delivered_at = $3, return_window_ends_at = $4, updated_at = $3
		WHERE id = $1 AND delivery_status = $5`,
		subOrderID, order.DeliveryDelivered, now, windowEnd, order.DeliveryShipped,
	)
	if err != nil {
		return fmt.Errorf("confirm delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	return tx.Commit(ctx)
}

// SetDeliveryStatus applies an admin-driven delivery transition. Entering a
// refund-eligible status stamps the refund request date.
func (s *Service) SetDeliveryStatus(ctx context.Context, subOrderID uuid.UUID, to order.DeliveryStatus, actor string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sub, err := s.lockSubOrder(ctx, tx, subOrderID)
	if err != nil {
		return err
	}
	if !CanTransitionDelivery(sub.DeliveryStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.DeliveryStatus, to)
	}

	now := time.Now().UTC()
	switch {
	case to == order.DeliveryShipped:
		_, err = tx.Exec(ctx, `
			UPDATE sub_orders
			SET delivery_status = $2, shipped_at = $3, updated_at = $3
			WHERE id = $1`,
			subOrderID, to, now,
		)
	case to == order.DeliveryDelivered:
		windowEnd := now.Add(s.returnWindow)
		_, err = tx.Exec(ctx, `
			UPDATE sub_orders
			SET delivery_status = $2, delivered_at = $3, return_window_ends_at = $4, updated_at = $3
			WHERE id = $1`,
			subOrderID, to, now, windowEnd,
		)
	case to.RefundEligible():
		_, err = tx.Exec(ctx, `
			UPDATE sub_orders
			SET delivery_status = $2, refund_request_date = $3, updated_at = $3
			WHERE id = $1`,
			subOrderID, to, now,
		)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE sub_orders
			SET delivery_status = $2, updated_at = $3
			WHERE id = $1`,
			subOrderID, to, now,
		)
	}
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("delivery status changed",
		"sub_order_id", subOrderID, "from", sub.DeliveryStatus, "to", to, "actor", actor)
	return nil
}

// AutoConfirmDeliveries promotes shipped sub-orders to delivered once they
// have been in transit past the cutoff with no buyer confirmation.
func (s *Service) AutoConfirmDeliveries(ctx context.Context, cutoff time.Time) (int, error) {
	now := time.Now().UTC()
	windowEnd := now.Add(s.returnWindow)
	tag, err := s.pool.Exec(ctx, `
		UPDATE sub_orders
		SET delivery_status = $1, delivered_at = $2, return_window_ends_at = $3, updated_at = $2
		WHERE delivery_status = $4 AND shipped_at <= $5`,
		order.DeliveryDelivered, now, windowEnd, order.DeliveryShipped, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("auto-confirm deliveries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AutoReleaseEligible releases every sub-order whose return window has
// elapsed. Each release goes through the same guarded path an admin uses,
// so a concurrent refund always wins or loses cleanly, never both.
func (s *Service) AutoReleaseEligible(ctx context.Context, limit int) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id
		FROM sub_orders
		WHERE delivery_status = $1
		  AND escrow_held AND NOT escrow_released AND NOT escrow_refunded
		  AND return_window_ends_at <= NOW()
		ORDER BY return_window_ends_at
		LIMIT $2`,
		order.DeliveryDelivered, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("query eligible sub-orders: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		err := s.Release(ctx, id, actorScheduler)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrStateConflict), errors.Is(err, ErrNotEligible):
			// Lost the race to an admin action; nothing to do.
		default:
			return released, err
		}
	}
	return released, nil
}
