package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
)

const (
	getFeeConfigSQL = `SELECT fee_type, value FROM fee_configs WHERE tenant_id = $1`

	setFeeConfigSQL = `
INSERT INTO fee_configs (tenant_id, fee_type, value) VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO UPDATE SET fee_type = EXCLUDED.fee_type, value = EXCLUDED.value`
)

var _ fee.Source = (*FeeRepository)(nil)

// FeeRepository implements fee.Source backed by PostgreSQL.
type FeeRepository struct {
	pool *pgxpool.Pool
}

// NewFeeRepository returns a FeeRepository that uses the given pool.
func NewFeeRepository(pool *pgxpool.Pool) *FeeRepository {
	return &FeeRepository{pool: pool}
}

// GetFeeConfig returns the tenant's fee configuration.
func (r *FeeRepository) GetFeeConfig(ctx context.Context, tenantID string) (fee.Config, error) {
	var (
		cfg     fee.Config
		feeType string
	)
	err := r.pool.QueryRow(ctx, getFeeConfigSQL, tenantID).Scan(&feeType, &cfg.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fee.Config{}, apperr.NotFound(apperr.EntityFeeConfig, tenantID, tenantID)
		}
		return fee.Config{}, fmt.Errorf("getting fee config of tenant %q: %w", tenantID, err)
	}
	cfg.Type = fee.Type(feeType)
	return cfg, nil
}

// SetFeeConfig stores the tenant's fee configuration, replacing any previous one.
func (r *FeeRepository) SetFeeConfig(ctx context.Context, tenantID string, cfg fee.Config) error {
	if _, err := r.pool.Exec(ctx, setFeeConfigSQL, tenantID, string(cfg.Type), cfg.Value); err != nil {
		return fmt.Errorf("setting fee config of tenant %q: %w", tenantID, err)
	}
	return nil
}
