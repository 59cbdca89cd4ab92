// Package amqp publishes order events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements order.Publisher. Events are routed by type, e.g.
// "order.created".
type Publisher struct {
	ch       Channel
	exchange string
	conn     *amqp.Connection
}

var _ order.Publisher = (*Publisher)(nil)

// NewPublisher publishes to exchange over ch.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	p := NewPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

// Publish implements order.Publisher.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	body := encodeEvent(e)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.OrderID,
		Timestamp:    e.OccurredAt,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	zctx.From(ctx).Debug("Event published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", string(e.Type)),
		zap.Int("size", len(body)),
	)
	return nil
}

// Check reports whether the broker connection is open.
func (p *Publisher) Check(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func encodeEvent(ev order.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("order_id")
	e.Str(ev.OrderID)
	e.FieldStart("tenant_id")
	e.Str(ev.TenantID)
	e.FieldStart("status")
	e.Str(string(ev.Status))
	if ev.PreviousStatus != "" {
		e.FieldStart("previous_status")
		e.Str(string(ev.PreviousStatus))
	}
	e.FieldStart("payment_status")
	e.Str(string(ev.PaymentStatus))
	e.FieldStart("final_total")
	e.Str(ev.FinalTotal.StringFixed(2))
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
