package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/menu"
)

const instrumentationName = "github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	TenantID      string
	CustomerPhone string
	Lines         []LineInput
	CouponID      string
	PromotionID   string
}

// PatchRequest holds a partial update. Nil fields are left unchanged; a
// non-nil empty Lines is rejected.
type PatchRequest struct {
	OrderID       string
	TenantID      string
	Lines         []LineInput
	Status        *Status
	PaymentStatus *PaymentStatus
	CouponID      *string
	PromotionID   *string
}

// Service prices orders on creation and guards their lifecycle afterwards.
type Service struct {
	menu      menu.Catalog
	fees      fee.Source
	store     Store
	publisher Publisher
	now       func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer      trace.Tracer
	created     metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher. Defaults to discarding events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTelemetry sets the tracer and meter providers. Defaults to the otel
// globals.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracerProvider = tp
		s.meterProvider = mp
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(catalog menu.Catalog, fees fee.Source, store Store, opts ...Option) (*Service, error) {
	s := &Service{
		menu:           catalog,
		fees:           fees,
		store:          store,
		publisher:      nopPublisher{},
		now:            time.Now,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order operations rejected by a business rule or conflict"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}
	if s.transitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Applied order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_transitions counter")
	}
	return s, nil
}

// Create prices and persists a new order. Menu prices are snapshotted per
// line, then the discount, fee, order, and usage record are resolved and
// written in a single transaction. Nothing is persisted on failure.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create",
		trace.WithAttributes(attribute.String("tenant.id", req.TenantID)),
	)
	defer func() { s.finish(ctx, span, "create", rerr) }()

	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New().String(),
		TenantID:      req.TenantID,
		CustomerPhone: req.CustomerPhone,
		Lines:         make([]Line, 0, len(req.Lines)),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, in := range req.Lines {
		snap, err := menu.Resolve(ctx, s.menu, req.TenantID, in.MenuItemID)
		if err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, newLine(in, i, snap.Price))
	}
	subtotal := o.Subtotal()

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		resolver := s.resolver(tx)
		res, err := resolver.Resolve(ctx, discount.Request{
			TenantID:    req.TenantID,
			CustomerID:  req.CustomerPhone,
			Subtotal:    subtotal,
			CouponID:    req.CouponID,
			PromotionID: req.PromotionID,
		})
		if err != nil {
			return errors.Wrap(err, "resolve discount")
		}

		platformFee, err := s.platformFee(ctx, req.TenantID, subtotal)
		if err != nil {
			return err
		}

		o.attach(res)
		o.PlatformFee = platformFee
		o.FinalTotal = FinalTotal(subtotal, o.Discount)

		if err := tx.Orders().Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		return s.redeem(ctx, tx, resolver, res, o.ID)
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant.id", o.TenantID)))
	zctx.From(ctx).Debug("Order created",
		zap.String("order_id", o.ID),
		zap.String("tenant_id", o.TenantID),
		zap.Stringer("subtotal", subtotal),
		zap.Stringer("discount", o.Discount),
		zap.Stringer("fee", o.PlatformFee),
		zap.Stringer("final_total", o.FinalTotal),
	)
	s.publish(ctx, newEvent(EventCreated, o, now))
	return o, nil
}

// Patch applies a partial update to an existing order in one transaction
// with the order locked. Status changes go through CheckTransition against
// the stored payment status; replaced lines are diffed, re-priced only where
// new, and the fee is recomputed. An already applied discount is kept as is.
func (s *Service) Patch(ctx context.Context, req PatchRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Patch", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("order.id", req.OrderID),
	))
	defer func() { s.finish(ctx, span, "patch", rerr) }()

	if req.PaymentStatus != nil && !req.PaymentStatus.Valid() {
		return nil, &InvalidPaymentStatusError{Status: *req.PaymentStatus}
	}

	var (
		o        *Order
		previous Status
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().GetForUpdate(ctx, req.TenantID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		previous = o.Status

		if req.Status != nil && *req.Status != o.Status {
			if err := CheckTransition(o.Status, *req.Status, o.PaymentStatus); err != nil {
				return err
			}
			o.Status = *req.Status
		}
		if req.PaymentStatus != nil {
			o.PaymentStatus = *req.PaymentStatus
		}

		var diff LineDiff
		if req.Lines != nil {
			o.Lines, diff, err = ApplyLines(o.Lines, req.Lines, func(in LineInput) (decimal.Decimal, error) {
				snap, err := menu.Resolve(ctx, s.menu, req.TenantID, in.MenuItemID)
				return snap.Price, err
			})
			if err != nil {
				return err
			}
			if o.PlatformFee, err = s.platformFee(ctx, req.TenantID, o.Subtotal()); err != nil {
				return err
			}
		}

		if err := s.attachOnPatch(ctx, tx, o, req); err != nil {
			return err
		}

		o.FinalTotal = FinalTotal(o.Subtotal(), o.Discount)
		o.UpdatedAt = s.now()
		if err := tx.Orders().Update(ctx, o, diff); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.Status != previous {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(previous)),
			attribute.String("to", string(o.Status)),
		))
		e := newEvent(EventStatusChanged, o, o.UpdatedAt)
		e.PreviousStatus = previous
		s.publish(ctx, e)
	} else {
		s.publish(ctx, newEvent(EventUpdated, o, o.UpdatedAt))
	}
	return o, nil
}

// Get returns the order with the given id for the tenant.
func (s *Service) Get(ctx context.Context, tenantID, orderID string) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().GetByID(ctx, tenantID, orderID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// attachOnPatch attaches a coupon or promotion requested by a patch. An
// order keeps at most one mechanism: asking for the attached one again is a
// no-op, asking for a different one is rejected.
func (s *Service) attachOnPatch(ctx context.Context, tx Tx, o *Order, req PatchRequest) error {
	kind, id := discount.Selected(deref(req.CouponID), deref(req.PromotionID))
	if id == "" {
		return nil
	}

	if attachedKind, attachedID := o.Mechanism(); attachedID != "" {
		if attachedKind == kind && attachedID == id {
			return nil
		}
		return apperr.Rule(CodeDiscountAlreadyApplied,
			"order_id", o.ID,
			"attached_id", attachedID,
			"requested_id", id,
		)
	}

	resolver := s.resolver(tx)
	res, err := resolver.Resolve(ctx, discount.Request{
		TenantID:    o.TenantID,
		CustomerID:  o.CustomerPhone,
		Subtotal:    o.Subtotal(),
		CouponID:    deref(req.CouponID),
		PromotionID: deref(req.PromotionID),
	})
	if err != nil {
		return errors.Wrap(err, "resolve discount")
	}
	o.attach(res)
	return s.redeem(ctx, tx, resolver, res, o.ID)
}

// redeem records the usage fact of a resolved discount and re-checks the
// limits it counted against.
func (s *Service) redeem(ctx context.Context, tx Tx, r *discount.Resolver, res discount.Result, orderID string) error {
	if res.Usage == nil {
		return nil
	}
	res.Usage.OrderID = orderID
	if err := tx.Ledger().Record(ctx, *res.Usage); err != nil {
		return errors.Wrap(err, "record usage")
	}
	return r.Confirm(ctx, res)
}

func (s *Service) resolver(tx Tx) *discount.Resolver {
	return discount.NewResolver(tx.Coupons(), tx.Promotions(), tx.Ledger(), s.now)
}

func (s *Service) platformFee(ctx context.Context, tenantID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	cfg, err := s.fees.GetFeeConfig(ctx, tenantID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get fee config")
	}
	amount, err := fee.Compute(cfg, subtotal)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "compute fee for tenant %s", tenantID)
	}
	return amount, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}

	var reason string
	var ce *apperr.ConflictError
	switch {
	case apperr.IsRule(err):
		reason = apperr.RuleCode(err)
	case errors.As(err, &ce):
		reason = ce.Code
	}
	if reason != "" {
		s.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("reason", reason),
		))
		span.SetAttributes(attribute.String("order.rejected", reason))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
