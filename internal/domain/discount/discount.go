// Package discount resolves the single discount mechanism (coupon or
// promotion) an order may carry and keeps the usage ledger that enforces
// redemption limits.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the two discount mechanisms. They share shape and
// algorithm and differ only in storage and rule codes.
type Kind string

const (
	KindCoupon    Kind = "coupon"
	KindPromotion Kind = "promotion"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed discounts a flat amount.
	TypeFixed Type = "fixed"
	// TypeFreeItem carries a stored amount for a target menu item. The item is
	// checked when the mechanism is defined, not when it is redeemed.
	TypeFreeItem Type = "free_item"
)

// Rule codes. Each exists once per Kind, see Code.
const (
	ReasonInvalid            = "INVALID"
	ReasonMaxTotalUses       = "MAX_TOTAL_USES"
	ReasonMaxUsesPerCustomer = "MAX_USES_PER_CUSTOMER"
	ReasonMinOrderValue      = "MIN_ORDER_VALUE"
)

// Rule codes spelled out for callers that match on them.
var (
	CodeCouponInvalid               = Code(KindCoupon, ReasonInvalid)
	CodeCouponMaxTotalUses          = Code(KindCoupon, ReasonMaxTotalUses)
	CodeCouponMaxUsesPerCustomer    = Code(KindCoupon, ReasonMaxUsesPerCustomer)
	CodeCouponMinOrderValue         = Code(KindCoupon, ReasonMinOrderValue)
	CodePromotionInvalid            = Code(KindPromotion, ReasonInvalid)
	CodePromotionMaxTotalUses       = Code(KindPromotion, ReasonMaxTotalUses)
	CodePromotionMaxUsesPerCustomer = Code(KindPromotion, ReasonMaxUsesPerCustomer)
	CodePromotionMinOrderValue      = Code(KindPromotion, ReasonMinOrderValue)
)

// Code returns the business rule code for a reason, e.g. COUPON_INVALID.
func Code(k Kind, reason string) string {
	return strings.ToUpper(string(k)) + "_" + reason
}

// ErrInvalidDefinition is returned by Mechanism.Validate.
var ErrInvalidDefinition = errors.New("invalid discount definition")

// Mechanism is a coupon or promotion definition. It is read-only at order
// time; only its usage facts grow.
type Mechanism struct {
	ID            string
	TenantID      string
	Kind          Kind
	Code          string
	Type          Type
	Value         decimal.Decimal
	TargetItemID  string
	MinOrderValue decimal.NullDecimal
	// Nil means unlimited.
	MaxTotalUses       *int
	MaxUsesPerCustomer *int
	Active             bool
	StartDate          time.Time
	EndDate            time.Time
}

// Redeemable reports whether the mechanism is active and now lies within
// [StartDate, EndDate].
func (m *Mechanism) Redeemable(now time.Time) bool {
	return m.Active && !now.Before(m.StartDate) && !now.After(m.EndDate)
}

// Amount returns the discount granted on the given subtotal.
func (m *Mechanism) Amount(subtotal decimal.Decimal) decimal.Decimal {
	if m.Type == TypePercentage {
		return subtotal.Mul(m.Value).Div(hundred).Round(2)
	}
	return m.Value.Round(2)
}

// Validate checks a definition before it is stored.
func (m *Mechanism) Validate() error {
	switch {
	case m.ID == "" || m.TenantID == "":
		return errors.Wrap(ErrInvalidDefinition, "id and tenant are required")
	case m.Kind != KindCoupon && m.Kind != KindPromotion:
		return errors.Wrapf(ErrInvalidDefinition, "unknown kind %q", m.Kind)
	case m.Value.IsNegative():
		return errors.Wrap(ErrInvalidDefinition, "value must not be negative")
	case m.EndDate.Before(m.StartDate):
		return errors.Wrap(ErrInvalidDefinition, "end date precedes start date")
	}
	switch m.Type {
	case TypePercentage:
		if m.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidDefinition, "percentage above 100")
		}
	case TypeFixed:
	case TypeFreeItem:
		if m.TargetItemID == "" {
			return errors.Wrap(ErrInvalidDefinition, "free_item requires a target menu item")
		}
	default:
		return errors.Wrapf(ErrInvalidDefinition, "unsupported discount type %q", m.Type)
	}
	return nil
}

// Usage is the append-only fact that a mechanism was redeemed once by a
// customer on an order.
type Usage struct {
	ID          string
	TenantID    string
	Kind        Kind
	MechanismID string
	CustomerID  string
	OrderID     string
	UsedAt      time.Time
}

// Source loads mechanism definitions of one kind.
type Source interface {
	// GetByID returns an *apperr.NotFoundError when the mechanism does not
	// exist for the tenant.
	GetByID(ctx context.Context, tenantID, id string) (*Mechanism, error)
}

// Ledger counts usage facts. It exposes no update or delete: counts only grow.
type Ledger interface {
	// Lock serializes redemptions of one mechanism until the enclosing
	// transaction ends.
	Lock(ctx context.Context, kind Kind, tenantID, mechanismID string) error
	CountTotal(ctx context.Context, kind Kind, tenantID, mechanismID string) (int, error)
	CountByCustomer(ctx context.Context, kind Kind, tenantID, mechanismID, customerID string) (int, error)
	Record(ctx context.Context, u Usage) error
}

var hundred = decimal.NewFromInt(100)
