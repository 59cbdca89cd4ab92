package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

const (
	orderColumns = `id, tenant_id, customer_phone, discount, platform_fee, final_total,
		coupon_id, promotion_id, status, payment_status, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id = $2`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	insertOrderSQL = `INSERT INTO orders (id, tenant_id, customer_phone, subtotal, discount, platform_fee,
		final_total, coupon_id, promotion_id, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateOrderSQL = `UPDATE orders SET subtotal = $3, discount = $4, platform_fee = $5, final_total = $6,
		coupon_id = $7, promotion_id = $8, status = $9, payment_status = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`

	listLinesSQL = `SELECT id, position, menu_item_id, quantity, unit_price, notes,
		tag_ids, additional_item_ids, customizations
		FROM order_lines WHERE order_id = $1 ORDER BY position`

	insertLineSQL = `INSERT INTO order_lines (id, order_id, position, menu_item_id, quantity, unit_price,
		notes, tag_ids, additional_item_ids, customizations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateLineSQL = `UPDATE order_lines SET position = $3, quantity = $4, notes = $5,
		tag_ids = $6, additional_item_ids = $7, customizations = $8
		WHERE order_id = $1 AND id = $2`

	deleteLinesSQL = `DELETE FROM order_lines WHERE order_id = $1 AND id = ANY($2)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Lines
// are stored as rows of order_lines; the subtotal column is rewritten from
// them on every write.
type OrderRepository struct {
	q querier
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{q: pool}
}

// Insert persists a new order with all its lines.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(insertOrderSQL,
		o.ID, o.TenantID, o.CustomerPhone, o.Subtotal(), o.Discount, o.PlatformFee, o.FinalTotal,
		nullable(o.CouponID), nullable(o.PromotionID), string(o.Status), string(o.PaymentStatus),
		o.CreatedAt, o.UpdatedAt,
	)
	for _, l := range o.Lines {
		queueInsertLine(b, o.ID, l)
	}
	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Update writes the order header and applies diff to its lines.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, diff order.LineDiff) error {
	b := &pgx.Batch{}
	b.Queue(updateOrderSQL,
		o.TenantID, o.ID, o.Subtotal(), o.Discount, o.PlatformFee, o.FinalTotal,
		nullable(o.CouponID), nullable(o.PromotionID), string(o.Status), string(o.PaymentStatus),
		o.UpdatedAt,
	)
	if len(diff.Removed) > 0 {
		b.Queue(deleteLinesSQL, o.ID, diff.Removed)
	}
	for _, l := range diff.Updated {
		b.Queue(updateLineSQL, o.ID, l.ID, l.Position, l.Quantity, l.Notes,
			nonNil(l.TagIDs), nonNil(l.AdditionalItemIDs), nonNil(l.Customizations))
	}
	for _, l := range diff.Added {
		queueInsertLine(b, o.ID, l)
	}

	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the tenant's order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, tenantID, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, tenantID, id)
}

// GetForUpdate is GetByID holding a row lock on the order until the
// transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, tenantID, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, tenantID, id)
}

func (r *OrderRepository) get(ctx context.Context, sql, tenantID, id string) (*order.Order, error) {
	rows, err := r.q.Query(ctx, sql, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(apperr.EntityOrder, tenantID, id)
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.q.Query(ctx, listLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	return &o, nil
}

func queueInsertLine(b *pgx.Batch, orderID string, l order.Line) {
	b.Queue(insertLineSQL,
		l.ID, orderID, l.Position, l.MenuItemID, l.Quantity, l.UnitPrice, l.Notes,
		nonNil(l.TagIDs), nonNil(l.AdditionalItemIDs), nonNil(l.Customizations),
	)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		couponID      *string
		promotionID   *string
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerPhone, &o.Discount, &o.PlatformFee, &o.FinalTotal,
		&couponID, &promotionID, &status, &paymentStatus, &o.CreatedAt, &o.UpdatedAt,
	)
	o.CouponID = deref(couponID)
	o.PromotionID = deref(promotionID)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(
		&l.ID, &l.Position, &l.MenuItemID, &l.Quantity, &l.UnitPrice, &l.Notes,
		&l.TagIDs, &l.AdditionalItemIDs, &l.Customizations,
	)
	return l, err
}
