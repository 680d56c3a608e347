package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status_changed"
)

type OrderPlacedEvent struct {
	OrderID       string          `json:"order_id"`
	CustomerEmail string          `json:"customer_email"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Timestamp     time.Time       `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID        string      `json:"order_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Status         OrderStatus `json:"status"`
	Notes          string      `json:"notes,omitempty"`
	ChangedAt      time.Time   `json:"changed_at"`
}
