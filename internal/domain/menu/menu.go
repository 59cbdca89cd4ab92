package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Catalog is the read side of a tenant's menu.
type Catalog interface {
	// GetPrice returns the current price of the item. It returns an
	// *apperr.NotFoundError when the item does not exist for the tenant.
	GetPrice(ctx context.Context, tenantID, menuItemID string) (decimal.Decimal, error)
}

// Item is a priced entry on a tenant's menu.
type Item struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Snapshot is the price of a menu item frozen at order time.
type Snapshot struct {
	MenuItemID string
	Price      decimal.Decimal
}

// Resolve reads the item's current price once so it can be copied into an
// order line. Lines never consult the catalog again after this.
func Resolve(ctx context.Context, c Catalog, tenantID, menuItemID string) (Snapshot, error) {
	price, err := c.GetPrice(ctx, tenantID, menuItemID)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "resolve menu item %s", menuItemID)
	}
	return Snapshot{MenuItemID: menuItemID, Price: price}, nil
}
