package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
)

type mockSource struct {
	kind Kind
	byID map[string]*Mechanism
	err  error
}

func (m *mockSource) GetByID(_ context.Context, tenantID, id string) (*Mechanism, error) {
	if m.err != nil {
		return nil, m.err
	}
	mech, ok := m.byID[id]
	if !ok || mech.TenantID != tenantID {
		return nil, apperr.NotFound(string(m.kind), tenantID, id)
	}
	return mech, nil
}

type mockLedger struct {
	usages   []Usage
	locked   []string
	countErr error
}

func (m *mockLedger) Lock(_ context.Context, kind Kind, _, id string) error {
	m.locked = append(m.locked, string(kind)+":"+id)
	return nil
}

func (m *mockLedger) CountTotal(_ context.Context, kind Kind, tenantID, id string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, u := range m.usages {
		if u.Kind == kind && u.TenantID == tenantID && u.MechanismID == id {
			n++
		}
	}
	return n, nil
}

func (m *mockLedger) CountByCustomer(_ context.Context, kind Kind, tenantID, id, customerID string) (int, error) {
	n := 0
	for _, u := range m.usages {
		if u.Kind == kind && u.TenantID == tenantID && u.MechanismID == id && u.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (m *mockLedger) Record(_ context.Context, u Usage) error {
	m.usages = append(m.usages, u)
	return nil
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var (
	fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past     = fixedNow.Add(-24 * time.Hour)
	future   = fixedNow.Add(24 * time.Hour)
)

func newMechanism(kind Kind, id string, typ Type, value string) *Mechanism {
	return &Mechanism{
		ID:        id,
		TenantID:  "t1",
		Kind:      kind,
		Code:      id,
		Type:      typ,
		Value:     d(value),
		Active:    true,
		StartDate: past,
		EndDate:   future,
	}
}

func usagesOf(kind Kind, id, customer string, n int) []Usage {
	out := make([]Usage, n)
	for i := range out {
		out[i] = Usage{TenantID: "t1", Kind: kind, MechanismID: id, CustomerID: customer}
	}
	return out
}

func newResolver(ledger *mockLedger, mechs ...*Mechanism) *Resolver {
	coupons := &mockSource{kind: KindCoupon, byID: map[string]*Mechanism{}}
	promotions := &mockSource{kind: KindPromotion, byID: map[string]*Mechanism{}}
	for _, m := range mechs {
		if m.Kind == KindCoupon {
			coupons.byID[m.ID] = m
		} else {
			promotions.byID[m.ID] = m
		}
	}
	return NewResolver(coupons, promotions, ledger, func() time.Time { return fixedNow })
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		mechs      []*Mechanism
		usages     []Usage
		req        Request
		wantAmount decimal.Decimal
		wantCode   string
		notFound   bool
	}{
		{
			name:       "no mechanism requested",
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100")},
			wantAmount: decimal.Zero,
		},
		{
			name:       "percentage coupon",
			mechs:      []*Mechanism{newMechanism(KindCoupon, "c1", TypePercentage, "10")},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100.00"), CouponID: "c1"},
			wantAmount: d("10.00"),
		},
		{
			name:       "fixed promotion is flat",
			mechs:      []*Mechanism{newMechanism(KindPromotion, "p1", TypeFixed, "7.50")},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("20"), PromotionID: "p1"},
			wantAmount: d("7.50"),
		},
		{
			name: "fixed larger than subtotal is not capped",
			mechs: []*Mechanism{
				newMechanism(KindCoupon, "c1", TypeFixed, "50"),
			},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("20"), CouponID: "c1"},
			wantAmount: d("50"),
		},
		{
			name: "free item passes stored value through",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindPromotion, "p1", TypeFreeItem, "4.25")
				m.TargetItemID = "fries"
				return m
			}()},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), PromotionID: "p1"},
			wantAmount: d("4.25"),
		},
		{
			name: "coupon takes precedence over promotion",
			mechs: []*Mechanism{
				newMechanism(KindCoupon, "c1", TypeFixed, "1"),
				newMechanism(KindPromotion, "p1", TypeFixed, "9"),
			},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), CouponID: "c1", PromotionID: "p1"},
			wantAmount: d("1"),
		},
		{
			name:     "unknown coupon is not found",
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), CouponID: "missing"},
			notFound: true,
		},
		{
			name:     "coupon of another tenant is not found",
			mechs:    []*Mechanism{newMechanism(KindCoupon, "c1", TypeFixed, "1")},
			req:      Request{TenantID: "t2", CustomerID: "555", Subtotal: d("30"), CouponID: "c1"},
			notFound: true,
		},
		{
			name: "inactive coupon",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypeFixed, "1")
				m.Active = false
				return m
			}()},
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), CouponID: "c1"},
			wantCode: CodeCouponInvalid,
		},
		{
			name: "promotion not started",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindPromotion, "p1", TypeFixed, "1")
				m.StartDate = future
				m.EndDate = future.Add(time.Hour)
				return m
			}()},
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), PromotionID: "p1"},
			wantCode: CodePromotionInvalid,
		},
		{
			name: "coupon expired",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypeFixed, "1")
				m.StartDate = past.Add(-time.Hour)
				m.EndDate = past
				return m
			}()},
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), CouponID: "c1"},
			wantCode: CodeCouponInvalid,
		},
		{
			name: "window bounds are inclusive",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypeFixed, "1")
				m.EndDate = fixedNow
				return m
			}()},
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("30"), CouponID: "c1"},
			wantAmount: d("1"),
		},
		{
			name: "total uses exhausted",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypePercentage, "10")
				m.MaxTotalUses = Limit(1)
				return m
			}()},
			usages:   usagesOf(KindCoupon, "c1", "other", 1),
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100"), CouponID: "c1"},
			wantCode: CodeCouponMaxTotalUses,
		},
		{
			name: "per customer uses exhausted",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindPromotion, "p1", TypePercentage, "10")
				m.MaxTotalUses = Limit(10)
				m.MaxUsesPerCustomer = Limit(2)
				return m
			}()},
			usages:   usagesOf(KindPromotion, "p1", "555", 2),
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100"), PromotionID: "p1"},
			wantCode: CodePromotionMaxUsesPerCustomer,
		},
		{
			name: "other customers usage does not count per customer",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindPromotion, "p1", TypeFixed, "3")
				m.MaxUsesPerCustomer = Limit(1)
				return m
			}()},
			usages:     usagesOf(KindPromotion, "p1", "777", 5),
			req:        Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100"), PromotionID: "p1"},
			wantAmount: d("3"),
		},
		{
			name: "total limit checked before per customer limit",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypeFixed, "3")
				m.MaxTotalUses = Limit(1)
				m.MaxUsesPerCustomer = Limit(1)
				return m
			}()},
			usages:   usagesOf(KindCoupon, "c1", "555", 1),
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("100"), CouponID: "c1"},
			wantCode: CodeCouponMaxTotalUses,
		},
		{
			name: "below minimum order value",
			mechs: []*Mechanism{func() *Mechanism {
				m := newMechanism(KindCoupon, "c1", TypeFixed, "3")
				m.MinOrderValue = decimal.NewNullDecimal(d("50"))
				return m
			}()},
			req:      Request{TenantID: "t1", CustomerID: "555", Subtotal: d("49.99"), CouponID: "c1"},
			wantCode: CodeCouponMinOrderValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{usages: tt.usages}
			r := newResolver(ledger, tt.mechs...)

			got, err := r.Resolve(context.Background(), tt.req)

			switch {
			case tt.notFound:
				require.Error(t, err)
				assert.True(t, apperr.IsNotFound(err), "expected not found, got %v", err)
				return
			case tt.wantCode != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.RuleCode(err))
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestResolver_UsageRecordAttribution(t *testing.T) {
	ledger := &mockLedger{}
	r := newResolver(ledger, newMechanism(KindCoupon, "c1", TypePercentage, "10"))

	got, err := r.Resolve(context.Background(), Request{
		TenantID: "t1", CustomerID: "555", Subtotal: d("100"), CouponID: "c1",
	})
	require.NoError(t, err)
	require.NotNil(t, got.Usage)

	assert.NotEmpty(t, got.Usage.ID)
	assert.Equal(t, KindCoupon, got.Usage.Kind)
	assert.Equal(t, "c1", got.Usage.MechanismID)
	assert.Equal(t, "555", got.Usage.CustomerID)
	assert.Equal(t, "t1", got.Usage.TenantID)
	assert.Equal(t, fixedNow, got.Usage.UsedAt)
	assert.Empty(t, got.Usage.OrderID, "order id is filled in by the caller")
	assert.Equal(t, []string{"coupon:c1"}, ledger.locked)
	assert.Empty(t, ledger.usages, "resolve never records")
}

func TestResolver_NoMechanismProducesNoUsage(t *testing.T) {
	ledger := &mockLedger{}
	r := newResolver(ledger)

	got, err := r.Resolve(context.Background(), Request{TenantID: "t1", Subtotal: d("10")})
	require.NoError(t, err)
	assert.Nil(t, got.Usage)
	assert.Empty(t, ledger.locked)
}

func TestResolver_RuleDetails(t *testing.T) {
	m := newMechanism(KindCoupon, "c1", TypePercentage, "10")
	m.MaxTotalUses = Limit(1)
	r := newResolver(&mockLedger{usages: usagesOf(KindCoupon, "c1", "x", 1)}, m)

	_, err := r.Resolve(context.Background(), Request{
		TenantID: "t1", CustomerID: "555", Subtotal: d("100"), CouponID: "c1",
	})

	var re *apperr.RuleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "c1", re.Details["coupon_id"])
	assert.Equal(t, "555", re.Details["customer_id"])
	assert.Equal(t, "1", re.Details["uses"])
	assert.Equal(t, "1", re.Details["limit"])
}

func TestResolver_LedgerErrorPropagates(t *testing.T) {
	dbErr := errors.New("connection reset")
	r := newResolver(&mockLedger{countErr: dbErr}, newMechanism(KindCoupon, "c1", TypeFixed, "1"))

	_, err := r.Resolve(context.Background(), Request{TenantID: "t1", Subtotal: d("10"), CouponID: "c1"})
	require.ErrorIs(t, err, dbErr)
	assert.False(t, apperr.IsRule(err))
}

func TestResolver_Confirm(t *testing.T) {
	m := newMechanism(KindCoupon, "c1", TypeFixed, "1")
	m.MaxTotalUses = Limit(1)
	ledger := &mockLedger{}
	r := newResolver(ledger, m)

	res, err := r.Resolve(context.Background(), Request{TenantID: "t1", CustomerID: "555", Subtotal: d("10"), CouponID: "c1"})
	require.NoError(t, err)

	require.NoError(t, ledger.Record(context.Background(), *res.Usage))
	require.NoError(t, r.Confirm(context.Background(), res))

	// A racing redemption that slipped past the optimistic check.
	require.NoError(t, ledger.Record(context.Background(), Usage{TenantID: "t1", Kind: KindCoupon, MechanismID: "c1", CustomerID: "777"}))
	err = r.Confirm(context.Background(), res)

	var ce *apperr.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeCouponMaxTotalUses, ce.Code)
	assert.Equal(t, "c1", ce.MechanismID)
}
