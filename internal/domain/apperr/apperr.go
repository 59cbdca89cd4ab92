// Package apperr defines the error kinds surfaced by the ordering engine.
//
// Every domain failure is one of three kinds: a missing tenant-scoped entity
// (NotFoundError), a violated business rule identified by a stable code
// (RuleError), or a usage-limit race detected at commit time (ConflictError).
// Anything else is an infrastructure fault and is propagated as-is.
package apperr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Entity names used in NotFoundError.
const (
	EntityMenuItem  = "menu_item"
	EntityCoupon    = "coupon"
	EntityPromotion = "promotion"
	EntityOrder     = "order"
	EntityFeeConfig = "fee_config"
)

// NotFoundError indicates that a referenced entity does not exist for the
// given tenant.
type NotFoundError struct {
	Entity   string
	ID       string
	TenantID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found for tenant %s", e.Entity, e.ID, e.TenantID)
}

// NotFound returns a NotFoundError for the given entity.
func NotFound(entity, tenantID, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id, TenantID: tenantID}
}

// RuleError signals a business rule violation. Code is stable and safe to
// expose to clients; Details carries the ids involved.
type RuleError struct {
	Code    string
	Details map[string]string
}

func (e *RuleError) Error() string {
	if len(e.Details) == 0 {
		return "business rule violated: " + e.Code
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("business rule violated: ")
	b.WriteString(e.Code)
	b.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Details[k])
	}
	b.WriteByte(')')
	return b.String()
}

// Rule returns a RuleError with the given code. Details are given as
// alternating key/value pairs.
func Rule(code string, kv ...string) *RuleError {
	e := &RuleError{Code: code}
	if len(kv) > 0 {
		e.Details = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Details[kv[i]] = kv[i+1]
		}
	}
	return e
}

// ConflictError reports a usage limit that was exceeded by a concurrent
// redemption and detected when re-checking before commit. The caller may
// retry with fresh state.
type ConflictError struct {
	Code        string
	MechanismID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s (mechanism %s)", e.Code, e.MechanismID)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRule reports whether err is, or wraps, a RuleError.
func IsRule(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// RuleCode returns the code of the RuleError wrapped by err, or "".
func RuleCode(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
