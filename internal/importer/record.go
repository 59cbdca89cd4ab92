package importer

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
)

// Decode parses one JSON-lines record into a mechanism definition.
//
//	{"kind":"coupon","id":"c1","tenant_id":"t1","code":"TEN","type":"percentage",
//	 "value":"10","target_item_id":null,"min_order_value":"50",
//	 "max_total_uses":100,"max_uses_per_customer":1,"active":true,
//	 "start_date":"2025-01-01T00:00:00Z","end_date":"2025-12-31T23:59:59Z"}
//
// Amounts may be JSON strings or numbers. Missing limits mean unlimited.
func Decode(line []byte) (discount.Mechanism, error) {
	var m discount.Mechanism
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			var s string
			s, err = d.Str()
			m.Kind = discount.Kind(s)
		case "id":
			m.ID, err = d.Str()
		case "tenant_id":
			m.TenantID, err = d.Str()
		case "code":
			m.Code, err = optStr(d)
		case "type":
			var s string
			s, err = d.Str()
			m.Type = discount.Type(s)
		case "value":
			m.Value, err = amount(d)
		case "target_item_id":
			m.TargetItemID, err = optStr(d)
		case "min_order_value":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			var v decimal.Decimal
			if v, err = amount(d); err == nil {
				m.MinOrderValue = decimal.NewNullDecimal(v)
			}
		case "max_total_uses":
			m.MaxTotalUses, err = limit(d)
		case "max_uses_per_customer":
			m.MaxUsesPerCustomer, err = limit(d)
		case "active":
			m.Active, err = d.Bool()
		case "start_date":
			m.StartDate, err = timestamp(d)
		case "end_date":
			m.EndDate, err = timestamp(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return discount.Mechanism{}, err
	}
	return m, nil
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func amount(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func limit(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("negative limit %d", n)
	}
	return &n, nil
}

func timestamp(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}
