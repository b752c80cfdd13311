package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrEmptyDeliveryMan is returned by Assign without a delivery partner id.
var ErrEmptyDeliveryMan = errors.New("delivery partner required")

// Service exposes order tracking and the status changes customers, delivery
// partners and admins may request. Every change is forwarded to the backend;
// the local view is only ever a reconciled projection of it.
type Service struct {
	orders  Repository
	tracker *Tracker

	returns metric.Int64Counter
}

// NewService creates an order Service.
func NewService(orders Repository, tracker *Tracker, meter metric.Meter) (*Service, error) {
	returns, err := meter.Int64Counter("storefront.order.return_requests",
		metric.WithDescription("Return requests by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create return counter")
	}
	return &Service{
		orders:  orders,
		tracker: tracker,
		returns: returns,
	}, nil
}

// Get fetches the order and returns the reconciled view.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return View{}, errors.Wrap(err, "get order")
	}
	return s.observe(ctx, *o), nil
}

// ListMine returns the caller's orders.
func (s *Service) ListMine(ctx context.Context) ([]View, error) {
	orders, err := s.orders.ListMine(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list my orders")
	}
	return s.observeAll(ctx, orders), nil
}

// ListAll returns every order. Admin only.
func (s *Service) ListAll(ctx context.Context) ([]View, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return s.observeAll(ctx, orders), nil
}

// DeliveryTasks returns the orders assigned to the calling delivery partner.
func (s *Service) DeliveryTasks(ctx context.Context) ([]View, error) {
	orders, err := s.orders.ListDeliveryTasks(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list delivery tasks")
	}
	return s.observeAll(ctx, orders), nil
}

// RequestReturn asks for a return of a delivered order. The view moves to
// Return_Requested as a pending transition while the backend is called. A
// backend failure discards it; success is reconciled by refetching the
// order. If the refetch fails the view stays pending.
func (s *Service) RequestReturn(ctx context.Context, id, reason string) (View, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return View{}, errors.Wrap(err, "get order")
	}
	s.observe(ctx, *o)

	reason, err = ValidateReturnRequest(o, reason)
	if err != nil {
		s.countReturn(ctx, "rejected")
		return View{}, err
	}
	if _, err := s.tracker.Propose(id, StatusReturnRequested, reason); err != nil {
		return View{}, errors.Wrap(err, "propose return")
	}

	if err := s.orders.RequestReturn(ctx, id, reason); err != nil {
		s.tracker.Discard(id)
		s.countReturn(ctx, "failed")
		return View{}, errors.Wrap(err, "request return")
	}
	s.countReturn(ctx, "requested")
	return s.refresh(ctx, id), nil
}

// AdvanceDelivery moves an order one step along the delivery path. Only
// Shipped → Out_for_Delivery → Delivered is allowed.
func (s *Service) AdvanceDelivery(ctx context.Context, id string, to Status) (View, error) {
	if to != StatusOutForDelivery && to != StatusDelivered {
		return View{}, &TransitionError{To: to}
	}
	return s.transition(ctx, id, to, s.orders.UpdateStatus)
}

// HandleReturn resolves a pending return request as Returned or
// Return_Rejected. Admin only.
func (s *Service) HandleReturn(ctx context.Context, id string, to Status) (View, error) {
	if to != StatusReturned && to != StatusReturnRejected {
		return View{}, &TransitionError{From: StatusReturnRequested, To: to}
	}
	return s.transition(ctx, id, to, s.orders.HandleReturn)
}

// Assign hands an order to a delivery partner. Admin only.
func (s *Service) Assign(ctx context.Context, id, deliveryManID string) (View, error) {
	if deliveryManID == "" {
		return View{}, ErrEmptyDeliveryMan
	}
	if err := s.orders.Assign(ctx, id, deliveryManID); err != nil {
		return View{}, errors.Wrap(err, "assign order")
	}
	return s.Get(ctx, id)
}

func (s *Service) transition(
	ctx context.Context,
	id string,
	to Status,
	call func(ctx context.Context, id string, to Status) error,
) (View, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return View{}, errors.Wrap(err, "get order")
	}
	s.observe(ctx, *o)

	if _, err := s.tracker.Propose(id, to, ""); err != nil {
		return View{}, err
	}
	if err := call(ctx, id, to); err != nil {
		s.tracker.Discard(id)
		return View{}, errors.Wrapf(err, "update status to %s", to)
	}
	return s.refresh(ctx, id), nil
}

func (s *Service) refresh(ctx context.Context, id string) View {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		zctx.From(ctx).Warn("Refetch after status change failed",
			zap.String("order_id", id), zap.Error(err))
		v, _ := s.tracker.View(id)
		return v
	}
	return s.observe(ctx, *o)
}

func (s *Service) observe(ctx context.Context, o Order) View {
	v, err := s.tracker.Observe(o)
	if errors.Is(err, ErrStaleStatus) {
		zctx.From(ctx).Debug("Ignoring stale order snapshot",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.String("known_status", string(v.Status)))
	}
	return v
}

func (s *Service) observeAll(ctx context.Context, orders []Order) []View {
	views := make([]View, len(orders))
	for i, o := range orders {
		views[i] = s.observe(ctx, o)
	}
	return views
}

func (s *Service) countReturn(ctx context.Context, outcome string) {
	s.returns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
