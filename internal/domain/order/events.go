package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventUpdated       EventType = "order.updated"
	EventStatusChanged EventType = "order.status_changed"
)

// Event is published after a unit of work commits.
type Event struct {
	Type           EventType
	OrderID        string
	TenantID       string
	Status         Status
	PreviousStatus Status
	PaymentStatus  PaymentStatus
	FinalTotal     decimal.Decimal
	OccurredAt     time.Time
}

// Publisher delivers order events. Delivery is best-effort: a failure never
// undoes a committed order.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(t EventType, o *Order, now time.Time) Event {
	return Event{
		Type:          t,
		OrderID:       o.ID,
		TenantID:      o.TenantID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		FinalTotal:    o.FinalTotal,
		OccurredAt:    now,
	}
}
