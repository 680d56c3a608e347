package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

type OrderFetcher interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// Auditor re-reads an order after each status change event and reports
// views whose header and history disagree.
type Auditor struct {
	orders       OrderFetcher
	policy       domain.TransitionPolicy
	fetchTimeout time.Duration
	logger       *slog.Logger

	checks     metric.Int64Counter
	violations metric.Int64Counter
}

func New(orders OrderFetcher, policy domain.TransitionPolicy, fetchTimeout time.Duration, logger *slog.Logger) (*Auditor, error) {
	meter := otel.Meter("github.com/joao-fontenele/ordertrack/internal/auditor")

	checks, err := meter.Int64Counter("order_view_checks_total",
		metric.WithDescription("Order views fetched and checked"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_view_checks_total counter: %w", err)
	}

	violations, err := meter.Int64Counter("order_view_violations_total",
		metric.WithDescription("Consistency violations found in order views, by check"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_view_violations_total counter: %w", err)
	}

	return &Auditor{
		orders:       orders,
		policy:       policy,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		checks:       checks,
		violations:   violations,
	}, nil
}

// Handle processes one order.status_changed payload. Undecodable payloads are
// logged and dropped. Failing to fetch the order for any reason other than
// it not existing is returned so the message is retried.
func (a *Auditor) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logger.WarnContext(ctx, "skipping undecodable event", "error", err)
		return nil
	}
	if event.OrderID == "" {
		a.logger.WarnContext(ctx, "skipping event without order id")
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	order, err := a.orders.GetOrder(fetchCtx, event.OrderID)
	cancel()

	a.checks.Add(ctx, 1)

	if errors.Is(err, domain.ErrNotFound) {
		a.report(ctx, event, []Violation{{Check: CheckOrderMissing, Detail: "order referenced by event does not exist"}})
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", event.OrderID, err)
	}

	violations := CheckView(order, event, a.policy)
	if len(violations) == 0 {
		a.logger.DebugContext(ctx, "order view consistent", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	a.report(ctx, event, violations)
	return nil
}

func (a *Auditor) report(ctx context.Context, event domain.OrderStatusChangedEvent, violations []Violation) {
	for _, v := range violations {
		a.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("check", v.Check)))
		a.logger.WarnContext(ctx, "order view inconsistent",
			"order_id", event.OrderID,
			"event_status", event.Status,
			"check", v.Check,
			"detail", v.Detail,
		)
	}
}
