package order

import "github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"

// Transition rule codes.
const (
	CodeCancelPaid              = "ORDER_CANCEL_PAID"
	CodeFinalizeNotInProduction = "ORDER_FINALIZE_NOT_IN_PRODUCTION"
	CodeFinalizePending         = "ORDER_FINALIZE_PENDING"
	CodeProductionPending       = "ORDER_PRODUCTION_PENDING"
	CodeInvalidStatusTransition = "ORDER_INVALID_STATUS_TRANSITION"
	CodeDiscountAlreadyApplied  = "ORDER_DISCOUNT_ALREADY_APPLIED"
)

// transitions lists the statuses reachable from each status.
//
// Pending -> InProduction is listed but never reached: the explicit guard in
// CheckTransition rejects it first. Both are kept until the intended
// behaviour is confirmed.
var transitions = map[Status][]Status{
	StatusPending:      {StatusInProduction, StatusCancelled},
	StatusInProduction: {StatusCompleted, StatusCancelled},
	StatusCompleted:    {},
	StatusCancelled:    {},
}

// CheckTransition validates moving an order from current to next given its
// payment status. Requesting the current status is always allowed.
func CheckTransition(current, next Status, payment PaymentStatus) error {
	if current == next {
		return nil
	}

	fail := func(code string) error {
		return apperr.Rule(code,
			"from", string(current),
			"to", string(next),
			"payment_status", string(payment),
		)
	}

	switch {
	case next == StatusCancelled && payment == PaymentPaid:
		return fail(CodeCancelPaid)
	case current == StatusPending && next == StatusCompleted:
		return fail(CodeFinalizePending)
	case next == StatusCompleted && current != StatusInProduction:
		return fail(CodeFinalizeNotInProduction)
	case current == StatusPending && next == StatusInProduction:
		return fail(CodeProductionPending)
	}

	for _, allowed := range transitions[current] {
		if allowed == next {
			return nil
		}
	}
	return fail(CodeInvalidStatusTransition)
}
