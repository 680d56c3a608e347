package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/ordertrack/internal/domain"
	"github.com/joao-fontenele/ordertrack/internal/storage"
)

// snapshot makes the reads of one view see a single committed state.
var snapshot = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

const selectOrder = `
	SELECT id, customer_name, customer_email, customer_phone, shipping_address,
	       total_amount, status, created_at, updated_at
	FROM orders`

// StatusChange is the outcome of a committed transition.
type StatusChange struct {
	From  domain.OrderStatus
	Entry domain.StatusEntry
}

type OrderRepository struct {
	db *storage.DB
}

func NewOrderRepository(db *storage.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create stores the header, all items and the seed history entry in one
// transaction. It fills in CreatedAt, UpdatedAt and History on order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	names := make([]string, len(order.Items))
	quantities := make([]int64, len(order.Items))
	prices := make([]string, len(order.Items))
	for i, item := range order.Items {
		names[i] = item.ProductName
		quantities[i] = int64(item.Quantity)
		prices[i] = item.Price.StringFixed(2)
	}

	var (
		createdAt time.Time
		seedID    int64
	)

	err := r.db.InTx(ctx, nil, func(q storage.Querier) error {
		err := q.QueryRowContext(ctx, `
			INSERT INTO orders (id, customer_name, customer_email, customer_phone, shipping_address,
			                    total_amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			RETURNING created_at
		`, order.ID, order.CustomerName, order.CustomerEmail, nullString(order.CustomerPhone),
			order.ShippingAddress, order.TotalAmount, string(domain.OrderStatusPlaced),
		).Scan(&createdAt)
		if err != nil {
			return storage.Wrap("insert order", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_name, quantity, price, created_at)
			SELECT $1::uuid, t.product_name, t.quantity, t.price, $5::timestamptz
			FROM unnest($2::text[], $3::int[], $4::numeric[]) WITH ORDINALITY AS t(product_name, quantity, price, ord)
			ORDER BY t.ord
		`, order.ID, pq.Array(names), pq.Array(quantities), pq.Array(prices), createdAt)
		if err != nil {
			return storage.Wrap("insert order items", err)
		}

		err = q.QueryRowContext(ctx, `
			INSERT INTO order_status_history (order_id, status, changed_at, notes)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, order.ID, string(domain.OrderStatusPlaced), createdAt, domain.SeedStatusNote).Scan(&seedID)
		if err != nil {
			return storage.Wrap("insert status history", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	order.Status = domain.OrderStatusPlaced
	order.CreatedAt = createdAt
	order.UpdatedAt = createdAt
	for i := range order.Items {
		order.Items[i].CreatedAt = createdAt
	}
	order.History = []domain.StatusEntry{{
		ID:        seedID,
		OrderID:   order.ID,
		Status:    domain.OrderStatusPlaced,
		ChangedAt: createdAt,
		Notes:     domain.SeedStatusNote,
	}}

	return nil
}

// Transition moves an order to status and appends the matching history entry.
// The order row stays locked from the status read until commit, so concurrent
// transitions on one order are applied one at a time and each history entry is
// stamped after the previous one committed. allow may reject the move based on
// the locked current status.
func (r *OrderRepository) Transition(ctx context.Context, id string, status domain.OrderStatus, notes string, allow func(from, to domain.OrderStatus) bool) (StatusChange, error) {
	var change StatusChange

	err := r.db.InTx(ctx, nil, func(q storage.Querier) error {
		var from domain.OrderStatus
		err := q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&from)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return storage.Wrap("lock order", err)
		}

		if allow != nil && !allow(from, status) {
			return fmt.Errorf("%w: %s to %s", domain.ErrTransitionNotAllowed, from, status)
		}

		var changedAt time.Time
		err = q.QueryRowContext(ctx, `
			UPDATE orders SET status = $2, updated_at = clock_timestamp()
			WHERE id = $1
			RETURNING updated_at
		`, id, string(status)).Scan(&changedAt)
		if err != nil {
			return storage.Wrap("update order status", err)
		}

		var entryID int64
		err = q.QueryRowContext(ctx, `
			INSERT INTO order_status_history (order_id, status, changed_at, notes)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, id, string(status), changedAt, notes).Scan(&entryID)
		if err != nil {
			return storage.Wrap("insert status history", err)
		}

		change = StatusChange{
			From: from,
			Entry: domain.StatusEntry{
				ID:        entryID,
				OrderID:   id,
				Status:    status,
				ChangedAt: changedAt,
				Notes:     notes,
			},
		}
		return nil
	})

	return change, err
}

// Get reads the header, items and full history of one order from a single
// snapshot.
func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order

	err := r.db.InTx(ctx, snapshot, func(q storage.Querier) error {
		o, err := scanOrder(q.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return storage.Wrap("select order", err)
		}

		items, err := r.itemsByOrder(ctx, q, []string{id})
		if err != nil {
			return err
		}
		o.Items = items[id]
		if o.Items == nil {
			o.Items = []domain.OrderItem{}
		}

		o.History, err = r.history(ctx, q, id)
		if err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// List returns every order newest first with its items and without history.
func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	orders := []domain.Order{}

	err := r.db.InTx(ctx, snapshot, func(q storage.Querier) error {
		rows, err := q.QueryContext(ctx, selectOrder+` ORDER BY created_at DESC, id`)
		if err != nil {
			return storage.Wrap("select orders", err)
		}
		defer func() { _ = rows.Close() }()

		var ids []string
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return storage.Wrap("scan order", err)
			}
			orders = append(orders, *o)
			ids = append(ids, o.ID)
		}
		if err := rows.Err(); err != nil {
			return storage.Wrap("select orders", err)
		}

		if len(ids) == 0 {
			return nil
		}

		items, err := r.itemsByOrder(ctx, q, ids)
		if err != nil {
			return err
		}
		for i := range orders {
			orders[i].Items = items[orders[i].ID]
			if orders[i].Items == nil {
				orders[i].Items = []domain.OrderItem{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) itemsByOrder(ctx context.Context, q storage.Querier, ids []string) (map[string][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_name, quantity, price, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, pq.Array(ids))
	if err != nil {
		return nil, storage.Wrap("select order items", err)
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]domain.OrderItem, len(ids))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductName, &item.Quantity, &item.Price, &item.CreatedAt); err != nil {
			return nil, storage.Wrap("scan order item", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("select order items", err)
	}

	return items, nil
}

func (r *OrderRepository) history(ctx context.Context, q storage.Querier, id string) ([]domain.StatusEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, status, changed_at, COALESCE(notes, '')
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY changed_at, id
	`, id)
	if err != nil {
		return nil, storage.Wrap("select status history", err)
	}
	defer func() { _ = rows.Close() }()

	history := []domain.StatusEntry{}
	for rows.Next() {
		var e domain.StatusEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedAt, &e.Notes); err != nil {
			return nil, storage.Wrap("scan status history", err)
		}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("select status history", err)
	}

	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o     domain.Order
		phone sql.NullString
	)
	err := row.Scan(&o.ID, &o.CustomerName, &o.CustomerEmail, &phone, &o.ShippingAddress,
		&o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.CustomerPhone = phone.String
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
