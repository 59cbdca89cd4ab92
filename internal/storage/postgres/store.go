package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

// Store runs units of work in PostgreSQL transactions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a transaction that is committed if fn returns nil and
// rolled back otherwise. Advisory locks taken through the ledger are
// released when it ends.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, txStores{q: tx})
	})
}

type txStores struct {
	q querier
}

func (t txStores) Orders() order.Repository { return &OrderRepository{q: t.q} }

func (t txStores) Coupons() discount.Source {
	return &MechanismRepository{q: t.q, kind: discount.KindCoupon}
}

func (t txStores) Promotions() discount.Source {
	return &MechanismRepository{q: t.q, kind: discount.KindPromotion}
}

func (t txStores) Ledger() discount.Ledger { return &Ledger{q: t.q} }
