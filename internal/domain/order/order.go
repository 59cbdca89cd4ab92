package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProduction Status = "in_production"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProduction, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus is tracked independently from Status.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentProcessed PaymentStatus = "processed"
)

// Valid reports whether p is a known payment status.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentProcessed:
		return true
	}
	return false
}

// CustomizationType is the closed set of line customizations.
type CustomizationType string

const (
	CustomizationSize        CustomizationType = "size"
	CustomizationExtra       CustomizationType = "extra"
	CustomizationRemoval     CustomizationType = "removal"
	CustomizationSauce       CustomizationType = "sauce"
	CustomizationTemperature CustomizationType = "temperature"
)

// Valid reports whether t belongs to the closed set.
func (t CustomizationType) Valid() bool {
	switch t {
	case CustomizationSize, CustomizationExtra, CustomizationRemoval,
		CustomizationSauce, CustomizationTemperature:
		return true
	}
	return false
}

// Customization adjusts how a line is prepared.
type Customization struct {
	Type  CustomizationType `json:"type"`
	Value string            `json:"value"`
}

// Line is a single order line. UnitPrice is copied from the menu when the
// line is created and never changes afterwards.
type Line struct {
	ID                string
	Position          int
	MenuItemID        string
	Quantity          int
	UnitPrice         decimal.Decimal
	Notes             string
	TagIDs            []string
	AdditionalItemIDs []string
	Customizations    []Customization
}

// Total returns quantity × unit price.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the persisted aggregate. It is mutated only by Service.Create
// and Service.Patch.
type Order struct {
	ID            string
	TenantID      string
	CustomerPhone string
	Lines         []Line
	Discount      decimal.Decimal
	PlatformFee   decimal.Decimal
	FinalTotal    decimal.Decimal
	// At most one of CouponID and PromotionID is set.
	CouponID      string
	PromotionID   string
	Status        Status
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subtotal is the sum of line totals, derived from the lines on every call.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Mechanism returns the attached discount mechanism, if any.
func (o *Order) Mechanism() (discount.Kind, string) {
	return discount.Selected(o.CouponID, o.PromotionID)
}

// attach records a resolved discount on the order.
func (o *Order) attach(res discount.Result) {
	o.Discount = res.Amount
	if res.Usage == nil {
		return
	}
	switch res.Usage.Kind {
	case discount.KindCoupon:
		o.CouponID = res.Usage.MechanismID
	case discount.KindPromotion:
		o.PromotionID = res.Usage.MechanismID
	}
}

// FinalTotal is subtotal minus discount, floored at zero and rounded to
// cents.
func FinalTotal(subtotal, discountAmount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discountAmount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	// Update writes the order header and applies diff to its lines.
	Update(ctx context.Context, o *Order, diff LineDiff) error
	// GetByID and GetForUpdate return an *apperr.NotFoundError when the
	// order does not exist for the tenant. GetForUpdate also locks the order
	// until the transaction ends.
	GetByID(ctx context.Context, tenantID, id string) (*Order, error)
	GetForUpdate(ctx context.Context, tenantID, id string) (*Order, error)
}

// Tx exposes the stores that take part in one unit of work.
type Tx interface {
	Orders() Repository
	Coupons() discount.Source
	Promotions() discount.Source
	Ledger() discount.Ledger
}

// Store runs units of work. If fn returns an error nothing it wrote is
// committed.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
