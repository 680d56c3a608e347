package auditor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/ordertrack/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func view(statuses ...domain.OrderStatus) *domain.Order {
	o := &domain.Order{ID: "order-1"}
	for i, s := range statuses {
		o.History = append(o.History, domain.StatusEntry{
			ID:        int64(i + 1),
			OrderID:   o.ID,
			Status:    s,
			ChangedAt: t0.Add(time.Duration(i) * time.Minute),
		})
	}
	if last, ok := o.LatestEntry(); ok {
		o.Status = last.Status
		o.UpdatedAt = last.ChangedAt
	}
	return o
}

func event(status domain.OrderStatus) domain.OrderStatusChangedEvent {
	return domain.OrderStatusChangedEvent{OrderID: "order-1", Status: status}
}

func checks(violations []Violation) []string {
	names := make([]string, 0, len(violations))
	for _, v := range violations {
		names = append(names, v.Check)
	}
	return names
}

func TestCheckView(t *testing.T) {
	tests := []struct {
		name   string
		order  func() *domain.Order
		event  domain.OrderStatusChangedEvent
		policy domain.TransitionPolicy
		want   []string
	}{
		{
			name:   "consistent view",
			order:  func() *domain.Order { return view("placed", "picked", "shipped") },
			event:  event("shipped"),
			policy: domain.PolicyForward,
			want:   []string{},
		},
		{
			name:   "later transitions already applied",
			order:  func() *domain.Order { return view("placed", "picked", "shipped", "delivered") },
			event:  event("picked"),
			policy: domain.PolicyPermissive,
			want:   []string{},
		},
		{
			name:   "empty history",
			order:  func() *domain.Order { return &domain.Order{ID: "order-1", Status: "placed"} },
			event:  event("picked"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckHistoryEmpty},
		},
		{
			name:   "first entry not placed",
			order:  func() *domain.Order { return view("picked", "shipped") },
			event:  event("shipped"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckFirstEntryPlaced},
		},
		{
			name: "history out of order",
			order: func() *domain.Order {
				o := view("placed", "picked", "shipped")
				o.History[1].ChangedAt = t0.Add(time.Hour)
				return o
			},
			event:  event("shipped"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckHistoryOrdered},
		},
		{
			name: "header disagrees with last entry",
			order: func() *domain.Order {
				o := view("placed", "picked")
				o.Status = domain.OrderStatusShipped
				return o
			},
			event:  event("picked"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckHeaderMatchesLast},
		},
		{
			name: "updated_at disagrees with last entry",
			order: func() *domain.Order {
				o := view("placed", "picked")
				o.UpdatedAt = o.UpdatedAt.Add(time.Second)
				return o
			},
			event:  event("picked"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckUpdatedAtMatches},
		},
		{
			name:   "event status missing",
			order:  func() *domain.Order { return view("placed", "picked") },
			event:  event("delivered"),
			policy: domain.PolicyPermissive,
			want:   []string{CheckEventInHistory},
		},
		{
			name:   "backwards move under forward policy",
			order:  func() *domain.Order { return view("placed", "shipped", "picked") },
			event:  event("picked"),
			policy: domain.PolicyForward,
			want:   []string{CheckForwardTransitions},
		},
		{
			name:   "backwards move under permissive policy",
			order:  func() *domain.Order { return view("placed", "shipped", "picked") },
			event:  event("picked"),
			policy: domain.PolicyPermissive,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckView(tt.order(), tt.event, tt.policy)
			assert.ElementsMatch(t, tt.want, checks(got))
		})
	}
}
