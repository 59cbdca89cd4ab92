package handler

import (
	"net/http"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

type errorBody struct {
	status  int
	message string
	rule    string
	details map[string]string
}

// mapError converts engine errors to a response. Unknown errors are
// internal and their message is not exposed.
func mapError(err error) errorBody {
	var (
		nf *apperr.NotFoundError
		re *apperr.RuleError
		ce *apperr.ConflictError
		de *decodeError
		iq *order.InvalidQuantityError
		ic *order.InvalidCustomizationError
		ip *order.InvalidPaymentStatusError
	)
	switch {
	case errors.As(err, &nf):
		return errorBody{status: http.StatusNotFound, message: nf.Error()}
	case errors.As(err, &re):
		return errorBody{status: http.StatusUnprocessableEntity, message: "business rule violated", rule: re.Code, details: re.Details}
	case errors.As(err, &ce):
		return errorBody{
			status:  http.StatusConflict,
			message: "usage limit reached concurrently, retry",
			rule:    ce.Code,
			details: map[string]string{"mechanism_id": ce.MechanismID},
		}
	case errors.As(err, &de):
		return errorBody{status: http.StatusBadRequest, message: de.Error()}
	case errors.Is(err, order.ErrEmptyItems):
		return errorBody{status: http.StatusBadRequest, message: order.ErrEmptyItems.Error()}
	case errors.As(err, &iq):
		return errorBody{status: http.StatusBadRequest, message: iq.Error()}
	case errors.As(err, &ic):
		return errorBody{status: http.StatusBadRequest, message: ic.Error()}
	case errors.As(err, &ip):
		return errorBody{status: http.StatusBadRequest, message: ip.Error()}
	}
	return errorBody{status: http.StatusInternalServerError, message: "internal server error"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := mapError(err)
	lg := zctx.From(r.Context())
	if body.status == http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", body.status), zap.Error(err))
	}
	write(w, body)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	write(w, errorBody{status: status, message: message})
}

func write(w http.ResponseWriter, body errorBody) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(body.status)
	e.FieldStart("message")
	e.Str(body.message)
	if body.rule != "" {
		e.FieldStart("rule")
		e.Str(body.rule)
	}
	if len(body.details) > 0 {
		keys := make([]string, 0, len(body.details))
		for k := range body.details {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		e.FieldStart("details")
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			e.Str(body.details[k])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.status)
	_, _ = w.Write(e.Bytes())
}
