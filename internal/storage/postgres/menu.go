package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/menu"
)

const (
	getMenuPriceSQL = `SELECT price FROM menu_items WHERE tenant_id = $1 AND id = $2`

	upsertMenuItemSQL = `
INSERT INTO menu_items (tenant_id, id, name, price) VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
)

var _ menu.Catalog = (*MenuRepository)(nil)

// MenuRepository implements menu.Catalog backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// GetPrice returns the current price of a tenant's menu item.
func (r *MenuRepository) GetPrice(ctx context.Context, tenantID, menuItemID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.pool.QueryRow(ctx, getMenuPriceSQL, tenantID, menuItemID).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, apperr.NotFound(apperr.EntityMenuItem, tenantID, menuItemID)
		}
		return decimal.Zero, fmt.Errorf("getting price of menu item %q: %w", menuItemID, err)
	}
	return price, nil
}

// Upsert creates or reprices a menu item. Existing orders keep the price
// they were placed with.
func (r *MenuRepository) Upsert(ctx context.Context, tenantID string, item menu.Item) error {
	if _, err := r.pool.Exec(ctx, upsertMenuItemSQL, tenantID, item.ID, item.Name, item.Price); err != nil {
		return fmt.Errorf("upserting menu item %q: %w", item.ID, err)
	}
	return nil
}
