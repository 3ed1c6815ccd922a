package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bilheteria/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStatusConflict is returned when a guarded status transition
	// matched no row, meaning the order already left the expected state.
	ErrStatusConflict = errors.New("store: status conflict")
	// ErrInsufficientStock is returned when checkout would oversell an
	// event or a merch product.
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

// Orders is the repository for orders and their items.
type Orders struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrders(db *sql.DB) *Orders {
	return &Orders{db: db, now: time.Now}
}

// Create inserts the order and its items in one transaction, reserving
// event capacity and merch stock with guarded updates. Ticket codes
// are stored per item as a text array.
func (s *Orders) Create(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_email, status, amount_cents, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		order.ID, order.CustomerEmail, order.Status, order.AmountCents, now)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	for i := range order.Items {
		item := &order.Items[i]
		switch item.Kind {
		case models.ItemKindTicket:
			res, err := tx.ExecContext(ctx,
				`UPDATE events SET tickets_sold = tickets_sold + $1
				 WHERE id = $2 AND published AND tickets_sold + $1 <= capacity`,
				item.Quantity, item.EventID)
			if err != nil {
				return fmt.Errorf("reserve tickets: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("event %d: %w", item.EventID, ErrInsufficientStock)
			}
		case models.ItemKindMerch:
			res, err := tx.ExecContext(ctx,
				`UPDATE products SET stock = stock - $1
				 WHERE id = $2 AND active AND stock >= $1`,
				item.Quantity, item.ProductID)
			if err != nil {
				return fmt.Errorf("reserve stock: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("product %d: %w", item.ProductID, ErrInsufficientStock)
			}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, kind, event_id, product_id, quantity, unit_price_cents, ticket_codes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			order.ID, item.Kind, nullableID(item.EventID), nullableID(item.ProductID),
			item.Quantity, item.UnitPriceCents, pq.Array(item.TicketCodes)).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		item.OrderID = order.ID
	}

	return tx.Commit()
}

// SetPaymentReference records the gateway charge reference after the
// charge has been created.
func (s *Orders) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_reference = $1, updated_at = $2 WHERE id = $3`,
		reference, s.now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads a single order with its items.
func (s *Orders) Get(ctx context.Context, orderID string) (models.Order, error) {
	var o models.Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_email, COALESCE(payment_reference, ''), status, amount_cents, created_at, updated_at
		 FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.CustomerEmail, &o.PaymentReference, &o.Status, &o.AmountCents, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, COALESCE(event_id, 0), COALESCE(product_id, 0), quantity, unit_price_cents, ticket_codes
		 FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := models.OrderItem{OrderID: orderID}
		var codes pq.StringArray
		if err := rows.Scan(&item.ID, &item.Kind, &item.EventID, &item.ProductID,
			&item.Quantity, &item.UnitPriceCents, &codes); err != nil {
			return models.Order{}, fmt.Errorf("scan item: %w", err)
		}
		item.TicketCodes = codes
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// GetByPaymentReference resolves the order a gateway charge belongs to.
func (s *Orders) GetByPaymentReference(ctx context.Context, reference string) (models.Order, error) {
	var o models.Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_email, COALESCE(payment_reference, ''), status, amount_cents, created_at, updated_at
		 FROM orders WHERE payment_reference = $1`, reference).
		Scan(&o.ID, &o.CustomerEmail, &o.PaymentReference, &o.Status, &o.AmountCents, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("get order by reference: %w", err)
	}
	return o, nil
}

// List returns recent orders, optionally filtered by status.
func (s *Orders) List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	query := `SELECT id, customer_email, COALESCE(payment_reference, ''), status, amount_cents, created_at, updated_at
		 FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerEmail, &o.PaymentReference, &o.Status,
			&o.AmountCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SelectPendingBatch loads at most limit pending orders whose age is
// within [minAge, maxAge], oldest first so long-pending orders cannot
// starve under a fixed batch size. An empty batch is not an error.
func (s *Orders) SelectPendingBatch(ctx context.Context, limit int, minAge, maxAge time.Duration) ([]models.Order, error) {
	now := s.now().UTC()
	newest := now.Add(-minAge)
	oldest := now.Add(-maxAge)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_email, COALESCE(payment_reference, ''), status, amount_cents, created_at, updated_at
		 FROM orders
		 WHERE status = $1 AND created_at <= $2 AND created_at >= $3
		 ORDER BY created_at ASC
		 LIMIT $4`,
		models.OrderStatusPending, newest, oldest, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending batch: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerEmail, &o.PaymentReference, &o.Status,
			&o.AmountCents, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ApplyStatus transitions an order from one status to another with a
// guard on the previous value. The guard is what keeps a concurrent
// webhook write from being silently overwritten: if the row already
// left the expected state the update matches nothing and
// ErrStatusConflict is returned.
func (s *Orders) ApplyStatus(ctx context.Context, orderID string, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, s.now().UTC(), orderID, from)
	if err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func nullableID(id int) any {
	if id == 0 {
		return nil
	}
	return id
}
