package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilheteria/backend/internal/models"
)

var fixedNow = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

func newTestOrders(t *testing.T) (*Orders, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Orders{db: db, now: func() time.Time { return fixedNow }}, mock
}

func orderColumns() []string {
	return []string{"id", "customer_email", "payment_reference", "status", "amount_cents", "created_at", "updated_at"}
}

func TestApplyStatus(t *testing.T) {
	query := regexp.QuoteMeta(
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`)

	t.Run("guarded transition applies", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectExec(query).
			WithArgs("paid", fixedNow, "order-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.ApplyStatus(context.Background(), "order-1", models.OrderStatusPending, models.OrderStatusPaid)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row already left the expected status", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectExec(query).
			WithArgs("cancelled", fixedNow, "order-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.ApplyStatus(context.Background(), "order-1", models.OrderStatusPending, models.OrderStatusCancelled)
		assert.ErrorIs(t, err, ErrStatusConflict)
	})

	t.Run("database failure", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectExec(query).
			WithArgs("paid", fixedNow, "order-1", "pending").
			WillReturnError(sql.ErrConnDone)

		err := s.ApplyStatus(context.Background(), "order-1", models.OrderStatusPending, models.OrderStatusPaid)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrStatusConflict)
	})
}

func TestSelectPendingBatch(t *testing.T) {
	s, mock := newTestOrders(t)

	newest := fixedNow.Add(-2 * time.Minute)
	oldest := fixedNow.Add(-48 * time.Hour)

	rows := sqlmock.NewRows(orderColumns()).
		AddRow("order-old", "a@example.com", "ref-old", "pending", int64(9000), fixedNow.Add(-3*time.Hour), fixedNow.Add(-3*time.Hour)).
		AddRow("order-new", "b@example.com", "", "pending", int64(4500), fixedNow.Add(-10*time.Minute), fixedNow.Add(-10*time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM orders\s+WHERE status = \$1 AND created_at <= \$2 AND created_at >= \$3\s+ORDER BY created_at ASC\s+LIMIT \$4`).
		WithArgs("pending", newest, oldest, 50).
		WillReturnRows(rows)

	batch, err := s.SelectPendingBatch(context.Background(), 50, 2*time.Minute, 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "order-old", batch[0].ID, "oldest first")
	assert.Equal(t, "ref-old", batch[0].PaymentReference)
	assert.Empty(t, batch[1].PaymentReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectPendingBatchEmpty(t *testing.T) {
	s, mock := newTestOrders(t)
	mock.ExpectQuery(`SELECT (.+) FROM orders`).
		WillReturnRows(sqlmock.NewRows(orderColumns()))

	batch, err := s.SelectPendingBatch(context.Background(), 50, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestCreate(t *testing.T) {
	s, mock := newTestOrders(t)

	order := &models.Order{
		ID:            "order-1",
		CustomerEmail: "buyer@example.com",
		Status:        models.OrderStatusPending,
		AmountCents:   13000,
		Items: []models.OrderItem{
			{Kind: models.ItemKindTicket, EventID: 7, Quantity: 2, UnitPriceCents: 5000,
				TicketCodes: []string{"TCK-1", "TCK-2"}},
			{Kind: models.ItemKindMerch, ProductID: 3, Quantity: 1, UnitPriceCents: 3000},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("order-1", "buyer@example.com", "pending", int64(13000), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET tickets_sold = tickets_sold \+ \$1`).
		WithArgs(2, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs("order-1", "ticket", 7, nil, 2, int64(5000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).
		WithArgs(1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs("order-1", "merch", nil, 3, 1, int64(3000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	err := s.Create(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, order.CreatedAt)
	assert.Equal(t, 11, order.Items[0].ID)
	assert.Equal(t, 12, order.Items[1].ID)
	assert.Equal(t, "order-1", order.Items[0].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnOversell(t *testing.T) {
	s, mock := newTestOrders(t)

	order := &models.Order{
		ID:            "order-1",
		CustomerEmail: "buyer@example.com",
		Status:        models.OrderStatusPending,
		AmountCents:   5000,
		Items: []models.OrderItem{
			{Kind: models.ItemKindTicket, EventID: 7, Quantity: 500, UnitPriceCents: 10,
				TicketCodes: []string{"TCK-1"}},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET tickets_sold = tickets_sold \+ \$1`).
		WithArgs(500, 7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Create(context.Background(), order)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPaymentReference(t *testing.T) {
	t.Run("sets reference", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectExec(`UPDATE orders SET payment_reference = \$1`).
			WithArgs("ref-1", fixedNow, "order-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.SetPaymentReference(context.Background(), "order-1", "ref-1"))
	})

	t.Run("unknown order", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectExec(`UPDATE orders SET payment_reference = \$1`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, s.SetPaymentReference(context.Background(), "nope", "ref-1"), ErrNotFound)
	})
}

func TestGet(t *testing.T) {
	s, mock := newTestOrders(t)

	mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow("order-1", "buyer@example.com", "ref-1", "paid", int64(9000), fixedNow, fixedNow))
	mock.ExpectQuery(`SELECT (.+) FROM order_items WHERE order_id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "event_id", "product_id", "quantity", "unit_price_cents", "ticket_codes"}).
			AddRow(11, "ticket", 7, 0, 2, int64(4500), "{TCK-1,TCK-2}"))

	order, err := s.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, []string{"TCK-1", "TCK-2"}, order.Items[0].TicketCodes)
}

func TestGetNotFound(t *testing.T) {
	s, mock := newTestOrders(t)
	mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByPaymentReference(t *testing.T) {
	t.Run("resolves order", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE payment_reference = \$1`).
			WithArgs("ref-1").
			WillReturnRows(sqlmock.NewRows(orderColumns()).
				AddRow("order-1", "buyer@example.com", "ref-1", "pending", int64(9000), fixedNow, fixedNow))

		order, err := s.GetByPaymentReference(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.Equal(t, "order-1", order.ID)
	})

	t.Run("unknown reference", func(t *testing.T) {
		s, mock := newTestOrders(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE payment_reference = \$1`).
			WithArgs("ref-unknown").
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetByPaymentReference(context.Background(), "ref-unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListFiltersByStatus(t *testing.T) {
	s, mock := newTestOrders(t)
	mock.ExpectQuery(`SELECT (.+) FROM orders WHERE status = \$1 ORDER BY created_at DESC LIMIT 20`).
		WithArgs("paid").
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow("order-1", "a@example.com", "ref-1", "paid", int64(9000), fixedNow, fixedNow))

	orders, err := s.List(context.Background(), models.OrderStatusPaid, 20)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusPaid, orders[0].Status)
}
