// Package fee computes the platform fee charged on an order.
package fee

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates how a tenant is charged.
type Type string

const (
	// TypePercentage charges a percentage of the order subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed charges a flat amount regardless of order size.
	TypeFixed Type = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Config is a tenant's fee configuration.
type Config struct {
	Type  Type
	Value decimal.Decimal
}

// Validate checks a configuration before it is stored.
func (c Config) Validate() error {
	if c.Type != TypePercentage && c.Type != TypeFixed {
		return errors.Errorf("unsupported fee type: %q", c.Type)
	}
	if c.Value.IsNegative() {
		return errors.New("fee value must not be negative")
	}
	return nil
}

// Source provides tenant fee configuration.
type Source interface {
	GetFeeConfig(ctx context.Context, tenantID string) (Config, error)
}

// Compute returns the platform fee for the given pre-discount subtotal.
// An unknown fee type is a configuration bug and is reported as a plain error.
func Compute(cfg Config, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch cfg.Type {
	case TypePercentage:
		return subtotal.Mul(cfg.Value).Div(hundred).Round(2), nil
	case TypeFixed:
		return cfg.Value.Round(2), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported fee type: %q", cfg.Type)
	}
}
