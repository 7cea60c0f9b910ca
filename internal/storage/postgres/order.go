package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/smartpick/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, shipping_address, payment_method,
		subtotal, shipping, tax, total, status, tracking_id,
		order_date, estimated_delivery, delivered_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY order_date DESC, id DESC`

	updateOrderStatusSQL = `UPDATE orders SET
			status = $3,
			tracking_id = COALESCE(NULLIF($4::text, ''), tracking_id),
			delivered_at = COALESCE($5::timestamptz, delivered_at),
			updated_at = $6
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// and the shipping address are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, items, addr, string(o.PaymentMethod),
		o.Summary.Subtotal, o.Summary.Shipping, o.Summary.Tax, o.Summary.Total,
		string(o.Status), o.TrackingID,
		o.OrderDate, o.EstimatedDelivery, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// ListByUser returns the orders of userID, most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus moves order id from status from to status to in a single
// conditional update.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, patch order.StatusPatch) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL,
		id, string(from), string(to), patch.TrackingID, patch.DeliveredAt, patch.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q status", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %q", id)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		items, addr    []byte
		payment, state string
		deliveredAt    *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &addr, &payment,
		&o.Summary.Subtotal, &o.Summary.Shipping, &o.Summary.Tax, &o.Summary.Total,
		&state, &o.TrackingID,
		&o.OrderDate, &o.EstimatedDelivery, &deliveredAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrapf(err, "decode order %q items", o.ID)
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return o, errors.Wrapf(err, "decode order %q address", o.ID)
	}
	o.PaymentMethod = order.PaymentMethod(payment)
	o.Status = order.Status(state)
	o.DeliveredAt = deliveredAt
	return o, nil
}
