package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/joao-fontenele/ordertrack/internal/breaker"
	"github.com/joao-fontenele/ordertrack/internal/domain"
)

// OrdersClient reads order views from the orders service. A 404 is returned
// as domain.ErrNotFound and does not count against the breaker.
type OrdersClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewOrdersClient(baseURL string, client *http.Client, cb *gobreaker.CircuitBreaker) *OrdersClient {
	return &OrdersClient{
		baseURL: baseURL,
		client:  client,
		cb:      cb,
	}
}

func (c *OrdersClient) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	notFound := false

	order, err := breaker.Execute(c.cb, func() (*domain.Order, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil, nil
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("orders service returned status %d", resp.StatusCode)
		}

		var order domain.Order
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		return &order, nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}

	return order, nil
}
