package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/joao-fontenele/ordertrack/internal/domain"
	"github.com/joao-fontenele/ordertrack/internal/logging"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// Transition treats the returned change's From as the locked current status
// and applies allow to it the way the real repository does.
func (m *mockRepository) Transition(ctx context.Context, id string, status domain.OrderStatus, notes string, allow func(from, to domain.OrderStatus) bool) (StatusChange, error) {
	args := m.Called(ctx, id, status, notes)
	if err := args.Error(1); err != nil {
		return StatusChange{}, err
	}
	change := args.Get(0).(StatusChange)
	if allow != nil && !allow(change.From, status) {
		return StatusChange{}, domain.ErrTransitionNotAllowed
	}
	return change, nil
}

func (m *mockRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*domain.Order)
	return order, args.Error(1)
}

func (m *mockRepository) List(ctx context.Context) ([]domain.Order, error) {
	args := m.Called(ctx)
	orders, _ := args.Get(0).([]domain.Order)
	return orders, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	args := m.Called(ctx, topic, key, event)
	return args.Error(0)
}

// installMeter swaps the global meter provider for one backed by a manual
// reader. It must run before NewService.
func installMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = mp.Shutdown(context.Background())
	})
	return reader
}

func counterPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			return sum.DataPoints
		}
	}
	return nil
}

func widgetOrder() domain.PlaceOrder {
	return domain.PlaceOrder{
		CustomerName:    "Ada Lovelace",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "1 Analytical Engine Way",
		Items: []domain.LineItem{
			{ProductName: "Widget", Quantity: 2, Price: decimal.RequireFromString("9.99")},
		},
	}
}

func newTestService(t *testing.T, repo Repository, publisher Publisher, policy domain.TransitionPolicy) *Service {
	t.Helper()
	svc, err := NewService(repo, publisher, policy, logging.Discard())
	require.NoError(t, err)
	return svc
}

func TestService_CreateOrder(t *testing.T) {
	t.Run("stores order with computed total and publishes event", func(t *testing.T) {
		reader := installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}
		createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		repo.On("Create", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
			return o.TotalAmount.Equal(decimal.RequireFromString("19.98")) &&
				o.Status == domain.OrderStatusPlaced &&
				len(o.Items) == 1 && o.Items[0].ProductName == "Widget"
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Order).CreatedAt = createdAt
		}).Return(nil).Once()

		publisher.On("Publish", mock.Anything, domain.TopicOrderPlaced, mock.AnythingOfType("string"),
			mock.MatchedBy(func(e domain.OrderPlacedEvent) bool {
				return e.CustomerEmail == "ada@example.com" &&
					e.TotalAmount.Equal(decimal.RequireFromString("19.98")) &&
					e.Timestamp.Equal(createdAt)
			})).Return(nil).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyPermissive)

		id, err := svc.CreateOrder(context.Background(), widgetOrder())
		require.NoError(t, err)

		_, err = uuid.Parse(id)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
		publisher.AssertExpectations(t)

		points := counterPoints(t, reader, "orders_created_total")
		require.Len(t, points, 1)
		assert.Equal(t, int64(1), points[0].Value)
	})

	t.Run("ignores client supplied total", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		repo.On("Create", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
			return o.TotalAmount.Equal(decimal.RequireFromString("19.98"))
		})).Return(nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		in := widgetOrder()
		claimed := decimal.NewFromInt(1000)
		in.TotalAmount = &claimed

		_, err := svc.CreateOrder(context.Background(), in)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rounds prices to cents before totalling", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		repo.On("Create", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
			return o.Items[0].Price.Equal(decimal.RequireFromString("1.01")) &&
				o.TotalAmount.Equal(decimal.RequireFromString("3.03"))
		})).Return(nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		in := widgetOrder()
		in.Items = []domain.LineItem{{ProductName: "Bolt", Quantity: 3, Price: decimal.RequireFromString("1.005")}}

		_, err := svc.CreateOrder(context.Background(), in)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejects invalid input without touching storage", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		in := widgetOrder()
		in.CustomerEmail = ""
		in.Items = append(in.Items,
			domain.LineItem{ProductName: "Gadget", Quantity: 0, Price: decimal.NewFromInt(1)},
			domain.LineItem{ProductName: "Gizmo", Quantity: 1, Price: decimal.NewFromInt(-1)},
		)

		_, err := svc.CreateOrder(context.Background(), in)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "customer_email")
		assert.Contains(t, verr.Fields, "items[1].quantity")
		assert.Contains(t, verr.Fields, "items[2].price")
		assert.NotContains(t, verr.Fields, "items[0].quantity")
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects an order without items", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		for _, items := range [][]domain.LineItem{nil, {}} {
			in := widgetOrder()
			in.Items = items

			_, err := svc.CreateOrder(context.Background(), in)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, "items")
		}
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("storage failure is not published", func(t *testing.T) {
		reader := installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}
		repo.On("Create", mock.Anything, mock.Anything).Return(domain.ErrStorage).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyPermissive)

		_, err := svc.CreateOrder(context.Background(), widgetOrder())
		assert.ErrorIs(t, err, domain.ErrStorage)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, counterPoints(t, reader, "orders_created_total"))
	})

	t.Run("publish failure does not fail the request", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}
		repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
		publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("broker down")).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyPermissive)

		id, err := svc.CreateOrder(context.Background(), widgetOrder())
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}

func TestService_TransitionStatus(t *testing.T) {
	orderID := uuid.NewString()
	changedAt := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)

	t.Run("records transition and publishes event", func(t *testing.T) {
		reader := installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}

		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusShipped, "left warehouse").
			Return(StatusChange{
				From:  domain.OrderStatusPlaced,
				Entry: domain.StatusEntry{OrderID: orderID, Status: domain.OrderStatusShipped, ChangedAt: changedAt, Notes: "left warehouse"},
			}, nil).Once()
		publisher.On("Publish", mock.Anything, domain.TopicOrderStatusChanged, orderID, domain.OrderStatusChangedEvent{
			OrderID:        orderID,
			PreviousStatus: domain.OrderStatusPlaced,
			Status:         domain.OrderStatusShipped,
			Notes:          "left warehouse",
			ChangedAt:      changedAt,
		}).Return(nil).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyPermissive)

		err := svc.TransitionStatus(context.Background(), orderID, "shipped", "left warehouse")
		require.NoError(t, err)
		repo.AssertExpectations(t)
		publisher.AssertExpectations(t)

		points := counterPoints(t, reader, "order_status_transitions_total")
		require.Len(t, points, 1)
		assert.Equal(t, int64(1), points[0].Value)
		from, _ := points[0].Attributes.Value(attribute.Key("from"))
		to, _ := points[0].Attributes.Value(attribute.Key("to"))
		assert.Equal(t, "placed", from.AsString())
		assert.Equal(t, "shipped", to.AsString())
	})

	t.Run("generates notes when empty", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusPicked, "Status updated to picked").
			Return(StatusChange{From: domain.OrderStatusPlaced}, nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		require.NoError(t, svc.TransitionStatus(context.Background(), orderID, "picked", ""))
		repo.AssertExpectations(t)
	})

	t.Run("unknown status is rejected before the id is looked at", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		for _, id := range []string{orderID, "not-a-uuid"} {
			err := svc.TransitionStatus(context.Background(), id, "cancelled", "")
			assert.ErrorIs(t, err, domain.ErrInvalidStatus)
		}
		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		err := svc.TransitionStatus(context.Background(), "42", "shipped", "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing order is not found", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusShipped, mock.Anything).
			Return(StatusChange{}, domain.ErrNotFound).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyPermissive)

		err := svc.TransitionStatus(context.Background(), orderID, "shipped", "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("permissive policy allows moving backwards", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusPlaced, mock.Anything).
			Return(StatusChange{From: domain.OrderStatusDelivered}, nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		assert.NoError(t, svc.TransitionStatus(context.Background(), orderID, "placed", ""))
	})

	t.Run("forward policy rejects moving backwards", func(t *testing.T) {
		reader := installMeter(t)
		repo := &mockRepository{}
		publisher := &mockPublisher{}
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusPlaced, mock.Anything).
			Return(StatusChange{From: domain.OrderStatusDelivered}, nil).Once()

		svc := newTestService(t, repo, publisher, domain.PolicyForward)

		err := svc.TransitionStatus(context.Background(), orderID, "placed", "")
		assert.ErrorIs(t, err, domain.ErrTransitionNotAllowed)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, counterPoints(t, reader, "order_status_transitions_total"))
	})

	t.Run("forward policy allows skipping and repeating", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusDelivered, mock.Anything).
			Return(StatusChange{From: domain.OrderStatusPlaced}, nil).Once()
		repo.On("Transition", mock.Anything, orderID, domain.OrderStatusShipped, mock.Anything).
			Return(StatusChange{From: domain.OrderStatusShipped}, nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyForward)

		assert.NoError(t, svc.TransitionStatus(context.Background(), orderID, "delivered", ""))
		assert.NoError(t, svc.TransitionStatus(context.Background(), orderID, "shipped", ""))
	})
}

func TestService_GetOrder(t *testing.T) {
	t.Run("malformed id is not found", func(t *testing.T) {
		installMeter(t)
		repo := &mockRepository{}
		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		_, err := svc.GetOrder(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("returns the stored view", func(t *testing.T) {
		installMeter(t)
		id := uuid.NewString()
		want := &domain.Order{ID: id, Status: domain.OrderStatusPicked}
		repo := &mockRepository{}
		repo.On("Get", mock.Anything, id).Return(want, nil).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		got, err := svc.GetOrder(context.Background(), id)
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("wraps storage failures", func(t *testing.T) {
		installMeter(t)
		id := uuid.NewString()
		repo := &mockRepository{}
		repo.On("Get", mock.Anything, id).Return(nil, domain.ErrStorage).Once()

		svc := newTestService(t, repo, nil, domain.PolicyPermissive)

		_, err := svc.GetOrder(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrStorage)
	})
}

func TestService_ListOrders(t *testing.T) {
	installMeter(t)
	repo := &mockRepository{}
	repo.On("List", mock.Anything).Return([]domain.Order{{ID: "b"}, {ID: "a"}}, nil).Once()

	svc := newTestService(t, repo, nil, domain.PolicyPermissive)

	orders, err := svc.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "b", orders[0].ID)
}
