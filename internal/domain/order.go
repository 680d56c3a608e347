package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusPicked    OrderStatus = "picked"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

// statusRank orders the lifecycle; delivered is terminal.
var statusRank = map[OrderStatus]int{
	OrderStatusPlaced:    0,
	OrderStatusPicked:    1,
	OrderStatusShipped:   2,
	OrderStatusDelivered: 3,
}

// ParseStatus returns ErrInvalidStatus for anything outside the lifecycle.
func ParseStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank is the position of s in the lifecycle, or -1 for unknown values.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s OrderStatus) String() string {
	return string(s)
}

const (
	SeedStatusNote = "Order received and confirmed."
)

// DefaultTransitionNote is recorded when a transition carries no notes.
func DefaultTransitionNote(s OrderStatus) string {
	return "Status updated to " + string(s)
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Amount is the line total.
func (i OrderItem) Amount() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type StatusEntry struct {
	ID        int64       `json:"id"`
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	ChangedAt time.Time   `json:"changed_at"`
	Notes     string      `json:"notes,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	ShippingAddress string          `json:"shipping_address"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items"`
	History         []StatusEntry   `json:"history,omitempty"`
}

// NewOrder builds an unsaved order in the placed state from validated input.
// Prices are rounded to cents so the total equals the sum of what gets stored.
func NewOrder(id string, in PlaceOrder) *Order {
	items := make([]OrderItem, 0, len(in.Items))
	total := decimal.Zero
	for _, li := range in.Items {
		item := OrderItem{
			OrderID:     id,
			ProductName: li.ProductName,
			Quantity:    li.Quantity,
			Price:       li.Price.Round(2),
		}
		total = total.Add(item.Amount())
		items = append(items, item)
	}

	return &Order{
		ID:              id,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   in.CustomerPhone,
		ShippingAddress: in.ShippingAddress,
		TotalAmount:     total,
		Status:          OrderStatusPlaced,
		Items:           items,
	}
}

// LatestEntry returns the most recent history entry, if any.
func (o *Order) LatestEntry() (StatusEntry, bool) {
	if len(o.History) == 0 {
		return StatusEntry{}, false
	}
	return o.History[len(o.History)-1], true
}

// TransitionPolicy decides which (current, requested) status pairs are accepted.
type TransitionPolicy string

const (
	// PolicyPermissive accepts any recognized status from any status.
	PolicyPermissive TransitionPolicy = "permissive"
	// PolicyForward accepts only non-decreasing moves along the lifecycle.
	PolicyForward TransitionPolicy = "forward"
)

func ParseTransitionPolicy(s string) (TransitionPolicy, error) {
	switch p := TransitionPolicy(s); p {
	case PolicyPermissive, PolicyForward:
		return p, nil
	default:
		return "", fmt.Errorf("unknown transition policy %q", s)
	}
}

func (p TransitionPolicy) Allows(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if p == PolicyForward {
		return to.Rank() >= from.Rank()
	}
	return true
}
