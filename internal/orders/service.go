package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

const instrumentationName = "github.com/joao-fontenele/ordertrack/internal/orders"

type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	Transition(ctx context.Context, id string, status domain.OrderStatus, notes string, allow func(from, to domain.OrderStatus) bool) (StatusChange, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

// Publisher sends domain events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Service struct {
	repo      Repository
	publisher Publisher
	policy    domain.TransitionPolicy
	logger    *slog.Logger
	tracer    trace.Tracer

	ordersCreated metric.Int64Counter
	transitions   metric.Int64Counter
}

// NewService wires the lifecycle engine. publisher may be nil, in which case
// no events are emitted.
func NewService(repo Repository, publisher Publisher, policy domain.TransitionPolicy, logger *slog.Logger) (*Service, error) {
	meter := otel.Meter(instrumentationName)

	ordersCreated, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Orders successfully placed"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	transitions, err := meter.Int64Counter("order_status_transitions_total",
		metric.WithDescription("Committed order status transitions by previous and new status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_status_transitions_total counter: %w", err)
	}

	return &Service{
		repo:          repo,
		publisher:     publisher,
		policy:        policy,
		logger:        logger,
		tracer:        otel.Tracer(instrumentationName),
		ordersCreated: ordersCreated,
		transitions:   transitions,
	}, nil
}

// CreateOrder validates in, computes the total from the rounded line prices
// and stores the order with its items and seed history entry. A total sent by
// the caller is ignored.
func (s *Service) CreateOrder(ctx context.Context, in domain.PlaceOrder) (string, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return "", err
	}

	order := domain.NewOrder(uuid.NewString(), in)
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.items", len(order.Items)),
	)

	if in.TotalAmount != nil && !in.TotalAmount.Equal(order.TotalAmount) {
		s.logger.WarnContext(ctx, "discarding client supplied total",
			"order_id", order.ID,
			"client_total", in.TotalAmount.String(),
			"computed_total", order.TotalAmount.String(),
		)
	}

	if err := s.repo.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("create order: %w", err)
	}

	s.ordersCreated.Add(ctx, 1)

	s.publish(ctx, domain.TopicOrderPlaced, order.ID, domain.OrderPlacedEvent{
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Items:         order.Items,
		TotalAmount:   order.TotalAmount,
		Timestamp:     order.CreatedAt,
	})

	s.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"items", len(order.Items),
		"total_amount", order.TotalAmount.String(),
	)
	return order.ID, nil
}

// TransitionStatus moves an order to newStatus and records the change in its
// history. The status is checked before the id, so a request that is wrong on
// both counts reports ErrInvalidStatus. Empty notes get a generated message.
func (s *Service) TransitionStatus(ctx context.Context, orderID, newStatus, notes string) error {
	ctx, span := s.tracer.Start(ctx, "orders.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", newStatus),
	))
	defer span.End()

	status, err := domain.ParseStatus(newStatus)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := uuid.Parse(orderID); err != nil {
		span.SetStatus(codes.Error, "malformed order id")
		return fmt.Errorf("order %q: %w", orderID, domain.ErrNotFound)
	}

	if notes == "" {
		notes = domain.DefaultTransitionNote(status)
	}

	change, err := s.repo.Transition(ctx, orderID, status, notes, s.policy.Allows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("transition order %s: %w", orderID, err)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", change.From.String()),
		attribute.String("to", status.String()),
	))

	s.publish(ctx, domain.TopicOrderStatusChanged, orderID, domain.OrderStatusChangedEvent{
		OrderID:        orderID,
		PreviousStatus: change.From,
		Status:         status,
		Notes:          notes,
		ChangedAt:      change.Entry.ChangedAt,
	})

	s.logger.InfoContext(ctx, "order status updated",
		"order_id", orderID,
		"from", change.From,
		"to", status,
	)
	return nil
}

func (s *Service) publish(ctx context.Context, topic, key string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, key, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "error", err, "topic", topic, "order_id", key)
	}
}
