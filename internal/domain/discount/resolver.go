package discount

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
)

// Request holds the input for resolving an order's discount. When both
// CouponID and PromotionID are set the coupon wins and the promotion is
// ignored.
type Request struct {
	TenantID    string
	CustomerID  string
	Subtotal    decimal.Decimal
	CouponID    string
	PromotionID string
}

// Result is the resolved discount. Usage is nil when no mechanism was
// requested; otherwise it must be recorded together with the order, with
// OrderID filled in.
type Result struct {
	Amount    decimal.Decimal
	Mechanism *Mechanism
	Usage     *Usage
}

// Resolver validates a requested coupon or promotion and computes its
// discount. It must run inside the transaction that persists the order so
// the ledger lock covers check and record.
type Resolver struct {
	coupons    Source
	promotions Source
	ledger     Ledger
	now        func() time.Time
}

// NewResolver creates a Resolver. A nil now defaults to time.Now.
func NewResolver(coupons, promotions Source, ledger Ledger, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		coupons:    coupons,
		promotions: promotions,
		ledger:     ledger,
		now:        now,
	}
}

// Selected returns the mechanism a request refers to, applying coupon
// precedence. An empty id means no discount was requested.
func Selected(couponID, promotionID string) (Kind, string) {
	if couponID != "" {
		return KindCoupon, couponID
	}
	if promotionID != "" {
		return KindPromotion, promotionID
	}
	return "", ""
}

// Resolve checks eligibility in a fixed order and stops at the first
// violation: existence, active window, total uses, per-customer uses, then
// minimum order value.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	kind, id := Selected(req.CouponID, req.PromotionID)
	if id == "" {
		return Result{Amount: decimal.Zero}, nil
	}

	if err := r.ledger.Lock(ctx, kind, req.TenantID, id); err != nil {
		return Result{}, errors.Wrapf(err, "lock %s %s", kind, id)
	}

	m, err := r.source(kind).GetByID(ctx, req.TenantID, id)
	if err != nil {
		return Result{}, errors.Wrapf(err, "load %s", kind)
	}

	now := r.now()
	if !m.Redeemable(now) {
		return Result{}, r.violation(kind, ReasonInvalid, req, id)
	}

	total, err := r.ledger.CountTotal(ctx, kind, req.TenantID, id)
	if err != nil {
		return Result{}, errors.Wrapf(err, "count %s uses", kind)
	}
	if m.MaxTotalUses != nil && total >= *m.MaxTotalUses {
		return Result{}, r.violation(kind, ReasonMaxTotalUses, req, id,
			"uses", itoa(total), "limit", itoa(*m.MaxTotalUses))
	}

	byCustomer, err := r.ledger.CountByCustomer(ctx, kind, req.TenantID, id, req.CustomerID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "count %s uses by customer", kind)
	}
	if m.MaxUsesPerCustomer != nil && byCustomer >= *m.MaxUsesPerCustomer {
		return Result{}, r.violation(kind, ReasonMaxUsesPerCustomer, req, id,
			"uses", itoa(byCustomer), "limit", itoa(*m.MaxUsesPerCustomer))
	}

	if m.MinOrderValue.Valid && req.Subtotal.LessThan(m.MinOrderValue.Decimal) {
		return Result{}, r.violation(kind, ReasonMinOrderValue, req, id,
			"min_order_value", m.MinOrderValue.Decimal.StringFixed(2))
	}

	return Result{
		Amount:    m.Amount(req.Subtotal),
		Mechanism: m,
		Usage: &Usage{
			ID:          uuid.New().String(),
			TenantID:    req.TenantID,
			Kind:        kind,
			MechanismID: id,
			CustomerID:  req.CustomerID,
			UsedAt:      now,
		},
	}, nil
}

// Confirm re-counts usage after the result's usage has been recorded and
// returns an *apperr.ConflictError if a limit is now exceeded. Returning an
// error must abort the enclosing transaction.
func (r *Resolver) Confirm(ctx context.Context, res Result) error {
	if res.Usage == nil {
		return nil
	}
	m, u := res.Mechanism, res.Usage

	if m.MaxTotalUses != nil {
		total, err := r.ledger.CountTotal(ctx, u.Kind, u.TenantID, u.MechanismID)
		if err != nil {
			return errors.Wrapf(err, "recount %s uses", u.Kind)
		}
		if total > *m.MaxTotalUses {
			return &apperr.ConflictError{Code: Code(u.Kind, ReasonMaxTotalUses), MechanismID: u.MechanismID}
		}
	}
	if m.MaxUsesPerCustomer != nil {
		n, err := r.ledger.CountByCustomer(ctx, u.Kind, u.TenantID, u.MechanismID, u.CustomerID)
		if err != nil {
			return errors.Wrapf(err, "recount %s uses by customer", u.Kind)
		}
		if n > *m.MaxUsesPerCustomer {
			return &apperr.ConflictError{Code: Code(u.Kind, ReasonMaxUsesPerCustomer), MechanismID: u.MechanismID}
		}
	}
	return nil
}

func (r *Resolver) source(k Kind) Source {
	if k == KindCoupon {
		return r.coupons
	}
	return r.promotions
}

func (r *Resolver) violation(k Kind, reason string, req Request, id string, kv ...string) *apperr.RuleError {
	details := append([]string{
		string(k) + "_id", id,
		"tenant_id", req.TenantID,
		"customer_id", req.CustomerID,
		"subtotal", req.Subtotal.StringFixed(2),
	}, kv...)
	return apperr.Rule(Code(k, reason), details...)
}

// Limit is a convenience for building optional usage limits.
func Limit(n int) *int { return &n }

func itoa(n int) string { return strconv.Itoa(n) }
