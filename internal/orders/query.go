package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

// GetOrder returns the header, items and history of one order as of a single
// snapshot. Malformed ids are reported as ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.GetOrder", trace.WithAttributes(
		attribute.String("order.id", id),
	))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("order %q: %w", id, domain.ErrNotFound)
	}

	order, err := s.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrders returns all orders newest first, each with its own items.
func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.ListOrders")
	defer span.End()

	orders, err := s.repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list orders: %w", err)
	}

	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	return orders, nil
}
