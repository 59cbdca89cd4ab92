package order

import (
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors for request validation.
var (
	ErrEmptyItems = errors.New("items required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	MenuItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for menu item %s", e.MenuItemID)
}

// InvalidCustomizationError indicates a customization type outside the
// closed set.
type InvalidCustomizationError struct {
	MenuItemID string
	Type       CustomizationType
}

func (e *InvalidCustomizationError) Error() string {
	return fmt.Sprintf("unknown customization %q for menu item %s", e.Type, e.MenuItemID)
}

// InvalidPaymentStatusError indicates an unknown payment status.
type InvalidPaymentStatusError struct {
	Status PaymentStatus
}

func (e *InvalidPaymentStatusError) Error() string {
	return fmt.Sprintf("unknown payment status %q", e.Status)
}

// LineInput is a requested order line. ID refers to an existing line when
// patching and is empty for new lines.
type LineInput struct {
	ID                string
	MenuItemID        string
	Quantity          int
	Notes             string
	TagIDs            []string
	AdditionalItemIDs []string
	Customizations    []Customization
}

// LineDiff is the line-level delta between two versions of an order.
type LineDiff struct {
	Added   []Line
	Updated []Line
	Removed []string
}

// Empty reports whether the diff changes nothing.
func (d LineDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// PriceFunc snapshots the unit price for a new line.
type PriceFunc func(in LineInput) (decimal.Decimal, error)

func validateLines(inputs []LineInput) error {
	if len(inputs) == 0 {
		return ErrEmptyItems
	}
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return &InvalidQuantityError{MenuItemID: in.MenuItemID}
		}
		for _, c := range in.Customizations {
			if !c.Type.Valid() {
				return &InvalidCustomizationError{MenuItemID: in.MenuItemID, Type: c.Type}
			}
		}
	}
	return nil
}

// newLine builds a fresh line with a snapshotted price.
func newLine(in LineInput, position int, price decimal.Decimal) Line {
	return Line{
		ID:                uuid.New().String(),
		Position:          position,
		MenuItemID:        in.MenuItemID,
		Quantity:          in.Quantity,
		UnitPrice:         price,
		Notes:             in.Notes,
		TagIDs:            in.TagIDs,
		AdditionalItemIDs: in.AdditionalItemIDs,
		Customizations:    in.Customizations,
	}
}

// matchLines pairs each input with an existing line: by ID when given,
// otherwise with the first unclaimed line for the same menu item. Unmatched
// inputs get -1.
func matchLines(current []Line, inputs []LineInput) []int {
	claimed := make([]bool, len(current))
	match := make([]int, len(inputs))
	for i := range match {
		match[i] = -1
	}

	byID := make(map[string]int, len(current))
	for i, l := range current {
		byID[l.ID] = i
	}
	for i, in := range inputs {
		if in.ID == "" {
			continue
		}
		if j, ok := byID[in.ID]; ok && !claimed[j] && current[j].MenuItemID == in.MenuItemID {
			match[i] = j
			claimed[j] = true
		}
	}

	for i, in := range inputs {
		if match[i] != -1 || in.ID != "" {
			continue
		}
		for j, l := range current {
			if !claimed[j] && l.MenuItemID == in.MenuItemID {
				match[i] = j
				claimed[j] = true
				break
			}
		}
	}
	return match
}

// ApplyLines replaces current with inputs by computing an explicit delta.
// Matched lines keep their ID and unit price; only unmatched inputs are
// priced through price. The returned lines are in input order.
func ApplyLines(current []Line, inputs []LineInput, price PriceFunc) ([]Line, LineDiff, error) {
	if err := validateLines(inputs); err != nil {
		return nil, LineDiff{}, err
	}

	match := matchLines(current, inputs)
	kept := make([]bool, len(current))

	var diff LineDiff
	lines := make([]Line, len(inputs))
	for i, in := range inputs {
		j := match[i]
		if j == -1 {
			p, err := price(in)
			if err != nil {
				return nil, LineDiff{}, err
			}
			lines[i] = newLine(in, i, p)
			diff.Added = append(diff.Added, lines[i])
			continue
		}

		kept[j] = true
		prev := current[j]
		next := prev
		next.Position = i
		next.Quantity = in.Quantity
		next.Notes = in.Notes
		next.TagIDs = in.TagIDs
		next.AdditionalItemIDs = in.AdditionalItemIDs
		next.Customizations = in.Customizations
		lines[i] = next
		if !sameLine(prev, next) {
			diff.Updated = append(diff.Updated, next)
		}
	}

	for j, l := range current {
		if !kept[j] {
			diff.Removed = append(diff.Removed, l.ID)
		}
	}
	return lines, diff, nil
}

func sameLine(a, b Line) bool {
	return a.Position == b.Position &&
		a.Quantity == b.Quantity &&
		a.Notes == b.Notes &&
		slices.Equal(a.TagIDs, b.TagIDs) &&
		slices.Equal(a.AdditionalItemIDs, b.AdditionalItemIDs) &&
		slices.Equal(a.Customizations, b.Customizations)
}
