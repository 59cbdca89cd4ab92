package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

// decodeError is a malformed request body.
type decodeError struct {
	msg string
	err error
}

func (e *decodeError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *decodeError) Unwrap() error { return e.err }

func invalid(field string, err error) error {
	return &decodeError{msg: "invalid " + field, err: err}
}

func decodeCreate(body []byte) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer_phone":
			req.CustomerPhone, err = d.Str()
		case "items":
			req.Lines, err = decodeLines(d)
		case "coupon_id":
			req.CouponID, err = optString(d)
		case "promotion_id":
			req.PromotionID, err = optString(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return invalid(key, err)
		}
		return nil
	})
	if err != nil {
		return order.CreateRequest{}, asDecodeError(err)
	}
	if req.CustomerPhone == "" {
		return order.CreateRequest{}, &decodeError{msg: "customer_phone required"}
	}
	return req, nil
}

func decodePatch(body []byte) (order.PatchRequest, error) {
	var req order.PatchRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Lines, err = decodeLines(d)
			if err == nil && req.Lines == nil {
				req.Lines = []order.LineInput{}
			}
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				status := order.Status(s)
				if !status.Valid() {
					err = errors.Errorf("unknown status %q", s)
				}
				req.Status = &status
			}
		case "payment_status":
			var s string
			if s, err = d.Str(); err == nil {
				ps := order.PaymentStatus(s)
				req.PaymentStatus = &ps
			}
		case "coupon_id":
			req.CouponID, err = optStringPtr(d)
		case "promotion_id":
			req.PromotionID, err = optStringPtr(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return invalid(key, err)
		}
		return nil
	})
	if err != nil {
		return order.PatchRequest{}, asDecodeError(err)
	}
	return req, nil
}

func asDecodeError(err error) error {
	var de *decodeError
	if errors.As(err, &de) {
		return de
	}
	return &decodeError{msg: "malformed JSON", err: err}
}

func decodeLines(d *jx.Decoder) ([]order.LineInput, error) {
	var lines []order.LineInput
	err := d.Arr(func(d *jx.Decoder) error {
		var in order.LineInput
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				in.ID, err = d.Str()
			case "menu_item_id":
				in.MenuItemID, err = d.Str()
			case "quantity":
				in.Quantity, err = d.Int()
			case "notes":
				in.Notes, err = optString(d)
			case "tag_ids":
				in.TagIDs, err = decodeStrings(d)
			case "additional_item_ids":
				in.AdditionalItemIDs, err = decodeStrings(d)
			case "customizations":
				err = d.Arr(func(d *jx.Decoder) error {
					var c order.Customization
					if err := d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "type":
							s, err := d.Str()
							c.Type = order.CustomizationType(s)
							return err
						case "value":
							s, err := d.Str()
							c.Value = s
							return err
						default:
							return d.Skip()
						}
					}); err != nil {
						return err
					}
					in.Customizations = append(in.Customizations, c)
					return nil
				})
			default:
				return d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		lines = append(lines, in)
		return nil
	})
	return lines, err
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optStringPtr(d *jx.Decoder) (*string, error) {
	s, err := optString(d)
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func encodeOrder(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	field(&e, "id", o.ID)
	field(&e, "tenant_id", o.TenantID)
	field(&e, "customer_phone", o.CustomerPhone)

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		field(&e, "id", l.ID)
		field(&e, "menu_item_id", l.MenuItemID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money(&e, "unit_price", l.UnitPrice)
		money(&e, "total", l.Total())
		field(&e, "notes", l.Notes)
		stringArr(&e, "tag_ids", l.TagIDs)
		stringArr(&e, "additional_item_ids", l.AdditionalItemIDs)
		e.FieldStart("customizations")
		e.ArrStart()
		for _, c := range l.Customizations {
			e.ObjStart()
			field(&e, "type", string(c.Type))
			field(&e, "value", c.Value)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()

	money(&e, "subtotal", o.Subtotal())
	money(&e, "discount", o.Discount)
	money(&e, "platform_fee", o.PlatformFee)
	money(&e, "final_total", o.FinalTotal)
	nullable(&e, "coupon_id", o.CouponID)
	nullable(&e, "promotion_id", o.PromotionID)
	field(&e, "status", string(o.Status))
	field(&e, "payment_status", string(o.PaymentStatus))
	field(&e, "created_at", o.CreatedAt.UTC().Format(time.RFC3339Nano))
	field(&e, "updated_at", o.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

func field(e *jx.Encoder, name, value string) {
	e.FieldStart(name)
	e.Str(value)
}

func money(e *jx.Encoder, name string, d decimal.Decimal) {
	field(e, name, d.StringFixed(2))
}

func nullable(e *jx.Encoder, name, value string) {
	e.FieldStart(name)
	if value == "" {
		e.Null()
		return
	}
	e.Str(value)
}

func stringArr(e *jx.Encoder, name string, values []string) {
	e.FieldStart(name)
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}
