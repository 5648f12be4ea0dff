package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errRecipientUnknown = errors.New("recipient unknown")

// SellerContact is one store's share of a paid order, with the contact the
// seller notification goes to.
type SellerContact struct {
	SubOrderID string
	StoreID    string
	StoreName  string
	Email      string
	Amount     int64
}

// PaidOrder is the slice of order state the dispatcher needs to fan out
// notifications, with sub-order store references already resolved.
type PaidOrder struct {
	OrderID       string
	CustomerEmail string
	Amount        int64
	Sellers       []SellerContact
}

// OrderLoader resolves notification recipients from committed order state.
type OrderLoader interface {
	LoadPaidOrder(ctx context.Context, orderID string) (*PaidOrder, error)
	LoadSellerContact(ctx context.Context, subOrderID string) (*SellerContact, error)
}

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) LoadPaidOrder(ctx context.Context, orderID string) (*PaidOrder, error) {
	var po PaidOrder
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_email, amount
		FROM orders
		WHERE id = $1`,
		orderID,
	).Scan(&po.OrderID, &po.CustomerEmail, &po.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errRecipientUnknown
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT so.id, so.store_id, COALESCE(st.name, ''), COALESCE(st.email, ''), so.amount
		FROM sub_orders so
		LEFT JOIN stores st ON st.id = so.store_id
		WHERE so.order_id = $1
		ORDER BY so.created_at`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("load seller contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SellerContact
		if err := rows.Scan(&sc.SubOrderID, &sc.StoreID, &sc.StoreName, &sc.Email, &sc.Amount); err != nil {
			return nil, err
		}
		po.Sellers = append(po.Sellers, sc)
	}
	return &po, rows.Err()
}

func (r *Repo) LoadSellerContact(ctx context.Context, subOrderID string) (*SellerContact, error) {
	var sc SellerContact
	err := r.pool.QueryRow(ctx, `
		SELECT so.id, so.store_id, COALESCE(st.name, ''), COALESCE(st.email, ''), so.amount
		FROM sub_orders so
		LEFT JOIN stores st ON st.id = so.store_id
		WHERE so.id = $1`,
		subOrderID,
	).Scan(&sc.SubOrderID, &sc.StoreID, &sc.StoreName, &sc.Email, &sc.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errRecipientUnknown
		}
		return nil, fmt.Errorf("load seller contact: %w", err)
	}
	return &sc, nil
}

var _ OrderLoader = (*Repo)(nil)
