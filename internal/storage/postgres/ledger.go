package postgres

import (
	"context"
	"fmt"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
)

const (
	lockMechanismSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	countUsagesSQL = `SELECT count(*) FROM discount_usages
		WHERE tenant_id = $1 AND kind = $2 AND mechanism_id = $3`

	countCustomerUsagesSQL = `SELECT count(*) FROM discount_usages
		WHERE tenant_id = $1 AND kind = $2 AND mechanism_id = $3 AND customer_id = $4`

	recordUsageSQL = `INSERT INTO discount_usages
		(id, tenant_id, kind, mechanism_id, customer_id, order_id, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ discount.Ledger = (*Ledger)(nil)

// Ledger implements discount.Ledger. It is only handed out inside a
// transaction, so Lock holds until commit or rollback.
type Ledger struct {
	q querier
}

// Lock takes a transaction-scoped advisory lock keyed by the mechanism.
func (l *Ledger) Lock(ctx context.Context, kind discount.Kind, tenantID, mechanismID string) error {
	key := string(kind) + ":" + tenantID + ":" + mechanismID
	if _, err := l.q.Exec(ctx, lockMechanismSQL, key); err != nil {
		return fmt.Errorf("locking %s %q: %w", kind, mechanismID, err)
	}
	return nil
}

// CountTotal returns how many times the mechanism was redeemed.
func (l *Ledger) CountTotal(ctx context.Context, kind discount.Kind, tenantID, mechanismID string) (int, error) {
	var n int
	if err := l.q.QueryRow(ctx, countUsagesSQL, tenantID, string(kind), mechanismID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of %s %q: %w", kind, mechanismID, err)
	}
	return n, nil
}

// CountByCustomer returns how many times the customer redeemed the mechanism.
func (l *Ledger) CountByCustomer(ctx context.Context, kind discount.Kind, tenantID, mechanismID, customerID string) (int, error) {
	var n int
	err := l.q.QueryRow(ctx, countCustomerUsagesSQL, tenantID, string(kind), mechanismID, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of %s %q by customer: %w", kind, mechanismID, err)
	}
	return n, nil
}

// Record appends a usage fact.
func (l *Ledger) Record(ctx context.Context, u discount.Usage) error {
	_, err := l.q.Exec(ctx, recordUsageSQL,
		u.ID, u.TenantID, string(u.Kind), u.MechanismID, u.CustomerID, u.OrderID, u.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("recording usage of %s %q: %w", u.Kind, u.MechanismID, err)
	}
	return nil
}
