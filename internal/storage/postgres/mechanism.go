package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
)

const mechanismColumns = `tenant_id, id, code, discount_type, value, target_item_id, min_order_value,
	max_total_uses, max_uses_per_customer, active, start_date, end_date`

var mechanismCopyColumns = []string{
	"tenant_id", "id", "code", "discount_type", "value", "target_item_id", "min_order_value",
	"max_total_uses", "max_uses_per_customer", "active", "start_date", "end_date",
}

var _ discount.Source = (*MechanismRepository)(nil)

// MechanismRepository implements discount.Source for one kind of mechanism.
// Coupons and promotions share a shape and live in tables of the same
// layout.
type MechanismRepository struct {
	q    querier
	kind discount.Kind
}

// NewMechanismRepository returns a MechanismRepository for kind that uses
// the given pool.
func NewMechanismRepository(pool *pgxpool.Pool, kind discount.Kind) *MechanismRepository {
	return &MechanismRepository{q: pool, kind: kind}
}

func (r *MechanismRepository) table() string {
	if r.kind == discount.KindPromotion {
		return "promotions"
	}
	return "coupons"
}

// GetByID returns the tenant's mechanism with the given id.
func (r *MechanismRepository) GetByID(ctx context.Context, tenantID, id string) (*discount.Mechanism, error) {
	sql := `SELECT ` + mechanismColumns + ` FROM ` + r.table() + ` WHERE tenant_id = $1 AND id = $2`
	rows, err := r.q.Query(ctx, sql, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("getting %s %q: %w", r.kind, id, err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, r.scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(string(r.kind), tenantID, id)
		}
		return nil, fmt.Errorf("getting %s %q: %w", r.kind, id, err)
	}
	return &m, nil
}

// IDs streams every stored id to fn.
func (r *MechanismRepository) IDs(ctx context.Context, fn func(tenantID, id string)) error {
	rows, err := r.q.Query(ctx, `SELECT tenant_id, id FROM `+r.table())
	if err != nil {
		return fmt.Errorf("listing %s ids: %w", r.kind, err)
	}
	var tenantID, id string
	_, err = pgx.ForEachRow(rows, []any{&tenantID, &id}, func() error {
		fn(tenantID, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing %s ids: %w", r.kind, err)
	}
	return nil
}

// Exists reports whether the tenant already has a mechanism with the id.
func (r *MechanismRepository) Exists(ctx context.Context, tenantID, id string) (bool, error) {
	var ok bool
	sql := `SELECT EXISTS (SELECT 1 FROM ` + r.table() + ` WHERE tenant_id = $1 AND id = $2)`
	if err := r.q.QueryRow(ctx, sql, tenantID, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking %s %q: %w", r.kind, id, err)
	}
	return ok, nil
}

// CopyIn bulk-inserts definitions with COPY. Callers are expected to have
// validated them and filtered out existing ids.
func (r *MechanismRepository) CopyIn(ctx context.Context, ms []discount.Mechanism) (int64, error) {
	n, err := r.q.CopyFrom(ctx, pgx.Identifier{r.table()}, mechanismCopyColumns,
		pgx.CopyFromSlice(len(ms), func(i int) ([]any, error) {
			m := ms[i]
			return []any{
				m.TenantID, m.ID, m.Code, string(m.Type), m.Value, nullable(m.TargetItemID), m.MinOrderValue,
				m.MaxTotalUses, m.MaxUsesPerCustomer, m.Active, m.StartDate, m.EndDate,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copying %d %s rows: %w", len(ms), r.kind, err)
	}
	return n, nil
}

func (r *MechanismRepository) scan(row pgx.CollectableRow) (discount.Mechanism, error) {
	var (
		m             discount.Mechanism
		discountType  string
		targetItemID  *string
		minOrderValue decimal.NullDecimal
		maxTotal      *int
		maxCustomer   *int
		start, end    time.Time
	)
	err := row.Scan(
		&m.TenantID, &m.ID, &m.Code, &discountType, &m.Value, &targetItemID, &minOrderValue,
		&maxTotal, &maxCustomer, &m.Active, &start, &end,
	)
	m.Kind = r.kind
	m.Type = discount.Type(discountType)
	m.TargetItemID = deref(targetItemID)
	m.MinOrderValue = minOrderValue
	m.MaxTotalUses = maxTotal
	m.MaxUsesPerCustomer = maxCustomer
	m.StartDate = start
	m.EndDate = end
	return m, err
}
