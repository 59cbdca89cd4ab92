// Package memory is an in-process implementation of the order stores.
//
// Units of work are fully serialized by one mutex and run against a copy of
// the state that replaces it only when the work succeeds, so a failed unit
// leaves nothing behind. The menu and fee configuration are read outside
// units of work and guarded separately.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

// ErrDuplicateUsage mirrors the unique (mechanism, customer, order)
// constraint of the persistent ledger.
var ErrDuplicateUsage = errors.New("duplicate usage")

type key struct {
	tenantID string
	id       string
}

type state struct {
	orders     map[key]*order.Order
	mechanisms map[discount.Kind]map[key]*discount.Mechanism
	usages     []discount.Usage
}

func (s *state) clone() *state {
	c := &state{
		orders:     make(map[key]*order.Order, len(s.orders)),
		mechanisms: make(map[discount.Kind]map[key]*discount.Mechanism, len(s.mechanisms)),
		usages:     slices.Clone(s.usages),
	}
	for k, o := range s.orders {
		c.orders[k] = copyOrder(o)
	}
	for kind, m := range s.mechanisms {
		c.mechanisms[kind] = maps.Clone(m)
	}
	return c
}

// Store holds all data in memory.
type Store struct {
	mu    sync.Mutex
	state *state

	catalogMu sync.RWMutex
	prices    map[key]decimal.Decimal
	fees      map[string]fee.Config
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		state: &state{
			orders: make(map[key]*order.Order),
			mechanisms: map[discount.Kind]map[key]*discount.Mechanism{
				discount.KindCoupon:    {},
				discount.KindPromotion: {},
			},
		},
		prices: make(map[key]decimal.Decimal),
		fees:   make(map[string]fee.Config),
	}
}

// SetPrice puts a menu item with the given price, replacing any previous one.
func (s *Store) SetPrice(tenantID, menuItemID string, price decimal.Decimal) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.prices[key{tenantID, menuItemID}] = price
}

// SetFeeConfig sets a tenant's fee configuration.
func (s *Store) SetFeeConfig(tenantID string, cfg fee.Config) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.fees[tenantID] = cfg
}

// PutMechanism stores a coupon or promotion definition.
func (s *Store) PutMechanism(m discount.Mechanism) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.mechanisms[m.Kind][key{m.TenantID, m.ID}] = &m
	return nil
}

// Usages returns a copy of all committed usage facts.
func (s *Store) Usages() []discount.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.usages)
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// GetPrice implements menu.Catalog.
func (s *Store) GetPrice(_ context.Context, tenantID, menuItemID string) (decimal.Decimal, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	p, ok := s.prices[key{tenantID, menuItemID}]
	if !ok {
		return decimal.Zero, apperr.NotFound(apperr.EntityMenuItem, tenantID, menuItemID)
	}
	return p, nil
}

// GetFeeConfig implements fee.Source.
func (s *Store) GetFeeConfig(_ context.Context, tenantID string) (fee.Config, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	cfg, ok := s.fees[tenantID]
	if !ok {
		return fee.Config{}, apperr.NotFound(apperr.EntityFeeConfig, tenantID, tenantID)
	}
	return cfg, nil
}

// InTx implements order.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, &tx{state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

type tx struct {
	state *state
}

func (t *tx) Orders() order.Repository    { return orders{t.state} }
func (t *tx) Coupons() discount.Source    { return mechanisms{t.state, discount.KindCoupon} }
func (t *tx) Promotions() discount.Source { return mechanisms{t.state, discount.KindPromotion} }
func (t *tx) Ledger() discount.Ledger     { return ledger{t.state} }

type orders struct{ state *state }

func (r orders) Insert(_ context.Context, o *order.Order) error {
	k := key{o.TenantID, o.ID}
	if _, ok := r.state.orders[k]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	r.state.orders[k] = copyOrder(o)
	return nil
}

func (r orders) Update(_ context.Context, o *order.Order, _ order.LineDiff) error {
	k := key{o.TenantID, o.ID}
	if _, ok := r.state.orders[k]; !ok {
		return apperr.NotFound(apperr.EntityOrder, o.TenantID, o.ID)
	}
	r.state.orders[k] = copyOrder(o)
	return nil
}

func (r orders) GetByID(_ context.Context, tenantID, id string) (*order.Order, error) {
	o, ok := r.state.orders[key{tenantID, id}]
	if !ok {
		return nil, apperr.NotFound(apperr.EntityOrder, tenantID, id)
	}
	return copyOrder(o), nil
}

func (r orders) GetForUpdate(ctx context.Context, tenantID, id string) (*order.Order, error) {
	return r.GetByID(ctx, tenantID, id)
}

type mechanisms struct {
	state *state
	kind  discount.Kind
}

func (r mechanisms) GetByID(_ context.Context, tenantID, id string) (*discount.Mechanism, error) {
	m, ok := r.state.mechanisms[r.kind][key{tenantID, id}]
	if !ok {
		return nil, apperr.NotFound(string(r.kind), tenantID, id)
	}
	cp := *m
	return &cp, nil
}

type ledger struct{ state *state }

// Lock is a no-op: units of work are already serialized.
func (ledger) Lock(context.Context, discount.Kind, string, string) error { return nil }

func (l ledger) CountTotal(_ context.Context, kind discount.Kind, tenantID, mechanismID string) (int, error) {
	n := 0
	for _, u := range l.state.usages {
		if u.Kind == kind && u.TenantID == tenantID && u.MechanismID == mechanismID {
			n++
		}
	}
	return n, nil
}

func (l ledger) CountByCustomer(_ context.Context, kind discount.Kind, tenantID, mechanismID, customerID string) (int, error) {
	n := 0
	for _, u := range l.state.usages {
		if u.Kind == kind && u.TenantID == tenantID && u.MechanismID == mechanismID && u.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (l ledger) Record(_ context.Context, u discount.Usage) error {
	for _, e := range l.state.usages {
		if e.MechanismID == u.MechanismID && e.CustomerID == u.CustomerID && e.OrderID == u.OrderID {
			return errors.Wrapf(ErrDuplicateUsage, "mechanism %s order %s", u.MechanismID, u.OrderID)
		}
	}
	l.state.usages = append(l.state.usages, u)
	return nil
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	return &cp
}
