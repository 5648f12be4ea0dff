package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vendora/settlement-service/internal/contracts"
	"vendora/settlement-service/internal/gateway"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

// CartClearer empties a buyer's cart. Implementations must be idempotent:
// clearing an already-empty cart succeeds.
type CartClearer interface {
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

// StatusBroadcaster pushes a payment-status change to any connected
// storefront clients.
type StatusBroadcaster interface {
	BroadcastOrderUpdate(orderID, status string)
}

type Service struct {
	pool      *pgxpool.Pool
	carts     CartClearer
	broadcast StatusBroadcaster
	logger    *slog.Logger
}

func NewService(pool *pgxpool.Pool, carts CartClearer, broadcast StatusBroadcaster, logger *slog.Logger) *Service {
	return &Service{
		pool:      pool,
		carts:     carts,
		broadcast: broadcast,
		logger:    logger,
	}
}

type ProductInput struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type SubOrderInput struct {
	StoreID  uuid.UUID      `json:"store_id"`
	Products []ProductInput `json:"products"`
}

type CreateInput struct {
	UserID          uuid.UUID       `json:"user_id"`
	CustomerEmail   string          `json:"customer_email"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	SubOrders       []SubOrderInput `json:"sub_orders"`
}

// Create persists a pending order with one sub-order per participating
// store. The idempotency key generated here travels to the payment gateway
// as checkout metadata and comes back in the settlement webhook.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.SubOrders) == 0 {
		return nil, fmt.Errorf("order needs at least one sub-order")
	}
	if in.CustomerEmail == "" {
		return nil, fmt.Errorf("customer email is required")
	}
	for _, so := range in.SubOrders {
		if len(so.Products) == 0 {
			return nil, fmt.Errorf("sub-order for store %s has no products", so.StoreID)
		}
		for _, p := range so.Products {
			if p.Quantity <= 0 || p.UnitPrice <= 0 {
				return nil, fmt.Errorf("product %q has non-positive quantity or price", p.Name)
			}
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	orderID := uuid.New()
	idemKey := uuid.NewString()
	address := in.ShippingAddress
	if len(address) == 0 {
		address = json.RawMessage(`{}`)
	}

	order := &Order{
		ID:              orderID.String(),
		UserID:          in.UserID.String(),
		CustomerEmail:   in.CustomerEmail,
		PaymentStatus:   PaymentPending,
		IdempotencyKey:  idemKey,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, soIn := range in.SubOrders {
		sub := SubOrder{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			StoreID:        soIn.StoreID.String(),
			DeliveryStatus: DeliveryPending,
		}
		for _, p := range soIn.Products {
			sub.Products = append(sub.Products, Product{Name: p.Name, Quantity: p.Quantity, UnitPrice: p.UnitPrice})
			sub.Amount += p.Quantity * p.UnitPrice
		}
		order.SubOrders = append(order.SubOrders, sub)
		order.Amount += sub.Amount
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, customer_email, amount, payment_status, idempotency_key, shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		orderID, in.UserID, in.CustomerEmail, order.Amount, PaymentPending, idemKey, address, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, sub := range order.SubOrders {
		products, err := json.Marshal(sub.Products)
		if err != nil {
			return nil, fmt.Errorf("marshal products: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO sub_orders (id, order_id, store_id, products, amount, delivery_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sub.ID, orderID, sub.StoreID, products, sub.Amount, DeliveryPending, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert sub-order: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return order, nil
}

// SettleOutcome describes what a settlement attempt did.
type SettleOutcome int

const (
	// OutcomeSettled: the order transitioned Pending -> Paid.
	OutcomeSettled SettleOutcome = iota
	// OutcomeAlreadyPaid: a replay of a settlement already applied.
	OutcomeAlreadyPaid
	// OutcomeAlreadyTerminal: the order failed or was cancelled earlier;
	// the late success event was dropped on purpose.
	OutcomeAlreadyTerminal
)

type SettleResult struct {
	Outcome SettleOutcome
	Message string
}

// Settle applies a verified payment to its order. The whole mutation runs in
// one transaction: the order row is locked, the idempotency guard decides,
// the status flips to paid, escrow holds are set on every sub-order, and a
// payment-confirmed event lands in the outbox. Side effects that are not
// outbox-durable (cart clear, websocket push) run only after commit and
// never fail the settlement.
func (s *Service) Settle(ctx context.Context, vt gateway.VerifiedTransaction) (SettleResult, error) {
	orderID, err := uuid.Parse(vt.OrderID)
	if err != nil {
		return SettleResult{}, ErrOrderNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SettleResult{}, err
	}
	defer tx.Rollback(ctx)

	var (
		userID    uuid.UUID
		status    PaymentStatus
		storedKey string
		amount    int64
	)
	err = tx.QueryRow(ctx, `
		SELECT user_id, payment_status, idempotency_key, amount
		FROM orders
		WHERE id = $1
		FOR UPDATE`,
		orderID,
	).Scan(&userID, &status, &storedKey, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SettleResult{}, ErrOrderNotFound
		}
		return SettleResult{}, fmt.Errorf("lock order: %w", err)
	}

	switch DecideReplay(storedKey, vt.IdempotencyKey, status) {
	case KeyMismatch:
		return SettleResult{}, ErrOrderNotFound
	case AlreadyPaid:
		return SettleResult{
			Outcome: OutcomeAlreadyPaid,
			Message: "already processed: order already paid",
		}, nil
	case AlreadyTerminal:
		return SettleResult{
			Outcome: OutcomeAlreadyTerminal,
			Message: fmt.Sprintf("already processed: order is %s", status),
		}, nil
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, payment_method = $3, updated_at = $4
		WHERE id = $1`,
		orderID, PaymentPaid, vt.PaymentMethod, now,
	)
	if err != nil {
		return SettleResult{}, fmt.Errorf("mark order paid: %w", err)
	}

	// Funds are captured; every sub-order's portion is now held in escrow.
	_, err = tx.Exec(ctx, `
		UPDATE sub_orders
		SET escrow_held = TRUE, updated_at = $2
		WHERE order_id = $1`,
		orderID, now,
	)
	if err != nil {
		return SettleResult{}, fmt.Errorf("hold escrow: %w", err)
	}

	event := contracts.PaymentConfirmedEvent{
		EventID:       uuid.NewString(),
		OrderID:       orderID.String(),
		UserID:        userID.String(),
		Amount:        amount,
		PaymentMethod: vt.PaymentMethod,
		ConfirmedAt:   now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return SettleResult{}, fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO settlement_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		event.EventID, contracts.EventPaymentConfirmed, payload,
	)
	if err != nil {
		return SettleResult{}, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SettleResult{}, err
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger.Warn("clear cart failed", "user_id", userID, "order_id", orderID, "err", err)
	}
	s.broadcast.BroadcastOrderUpdate(orderID.String(), string(PaymentPaid))

	return SettleResult{
		Outcome: OutcomeSettled,
		Message: "payment confirmed",
	}, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, customer_email, amount, payment_status, payment_method, idempotency_key, shipping_address, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.CustomerEmail, &o.Amount, &o.PaymentStatus, &o.PaymentMethod, &o.IdempotencyKey, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}

	return result, rows.Err()
}

// Get loads an order with its sub-orders for the owning buyer.
func (s *Service) Get(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, customer_email, amount, payment_status, payment_method, idempotency_key, shipping_address, created_at, updated_at
		FROM orders
		WHERE id = $1 AND user_id = $2`,
		orderID, userID,
	).Scan(&o.ID, &o.UserID, &o.CustomerEmail, &o.Amount, &o.PaymentStatus, &o.PaymentMethod, &o.IdempotencyKey, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	subs, err := s.subOrders(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.SubOrders = subs
	return &o, nil
}

func (s *Service) subOrders(ctx context.Context, orderID uuid.UUID) ([]SubOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, store_id, products, amount, delivery_status,
		       escrow_held, escrow_released, escrow_refunded, COALESCE(refund_reason, ''),
		       shipped_at, delivered_at, return_window_ends_at, refund_request_date
		FROM sub_orders
		WHERE order_id = $1
		ORDER BY created_at`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sub-orders: %w", err)
	}
	defer rows.Close()

	var subs []SubOrder
	for rows.Next() {
		var (
			sub      SubOrder
			products []byte
		)
		err := rows.Scan(
			&sub.ID, &sub.OrderID, &sub.StoreID, &products, &sub.Amount, &sub.DeliveryStatus,
			&sub.Escrow.Held, &sub.Escrow.Released, &sub.Escrow.Refunded, &sub.Escrow.RefundReason,
			&sub.ShippedAt, &sub.DeliveredAt, &sub.ReturnWindowEndsAt, &sub.RefundRequestDate,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(products, &sub.Products); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}
