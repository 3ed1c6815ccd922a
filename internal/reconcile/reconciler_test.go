package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/gateway"
	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

type fakeGateway struct {
	charges map[string]gateway.Charge
	errs    map[string]error
	calls   map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		charges: map[string]gateway.Charge{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeGateway) QueryCharge(ctx context.Context, reference string) (gateway.Charge, error) {
	f.calls[reference]++
	if err, ok := f.errs[reference]; ok {
		return gateway.Charge{}, err
	}
	c, ok := f.charges[reference]
	if !ok {
		return gateway.Charge{}, fmt.Errorf("%w: reference %s", gateway.ErrNotFound, reference)
	}
	return c, nil
}

type appliedTransition struct {
	orderID  string
	from, to models.OrderStatus
}

type fakeOrders struct {
	batch       []models.Order
	selectErr   error
	selectCalls int
	applied     []appliedTransition
	applyErr    error
}

func (f *fakeOrders) SelectPendingBatch(ctx context.Context, limit int, minAge, maxAge time.Duration) ([]models.Order, error) {
	f.selectCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	if len(f.batch) > limit {
		return f.batch[:limit], nil
	}
	return f.batch, nil
}

func (f *fakeOrders) ApplyStatus(ctx context.Context, orderID string, from, to models.OrderStatus) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, appliedTransition{orderID: orderID, from: from, to: to})
	return nil
}

type fakeAudit struct {
	records []models.Outcome
	err     error
}

func (f *fakeAudit) Record(ctx context.Context, o models.Outcome) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, o)
	return nil
}

type fakeLease struct {
	released int
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.released++
	return nil
}

type fakeLocker struct {
	err      error
	lease    fakeLease
	acquires int
}

func (f *fakeLocker) TryAcquire(ctx context.Context) (Lease, error) {
	f.acquires++
	if f.err != nil {
		return nil, f.err
	}
	return &f.lease, nil
}

func testConfig() config.ReconcileConfig {
	return config.ReconcileConfig{
		CronSchedule:      "*/5 * * * *",
		BatchSize:         10,
		ExecutionTimeout:  time.Minute,
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		BackoffMultiplier: 2,
		LockTTL:           5 * time.Minute,
		MinOrderAge:       time.Minute,
		MaxOrderAge:       time.Hour,
		PriceTolerance:    0.01,
	}
}

func newTestJob(cfg config.ReconcileConfig, gw *fakeGateway, orders *fakeOrders, audit *fakeAudit, locker *fakeLocker) *Job {
	return NewJob(cfg, gw, orders, audit, locker, NewMetrics(), zap.NewNop())
}

func pendingOrder(id, reference string, cents int64) models.Order {
	return models.Order{
		ID:               id,
		CustomerEmail:    "buyer@example.com",
		PaymentReference: reference,
		Status:           models.OrderStatusPending,
		AmountCents:      cents,
	}
}

func TestRunUpdatesPendingOrders(t *testing.T) {
	gw := newFakeGateway()
	gw.charges["ref-a"] = gateway.Charge{Reference: "ref-a", Status: models.OrderStatusPaid, RawStatus: "paid_out", AmountCents: 9000}
	gw.charges["ref-b"] = gateway.Charge{Reference: "ref-b", Status: models.OrderStatusCancelled, RawStatus: "refunded", AmountCents: 4500}

	orders := &fakeOrders{batch: []models.Order{
		pendingOrder("order-a", "ref-a", 9000),
		pendingOrder("order-b", "ref-b", 4500),
	}}
	audit := &fakeAudit{}
	locker := &fakeLocker{}

	job := newTestJob(testConfig(), gw, orders, audit, locker)
	report := job.Run(context.Background())

	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.BatchSize)
	assert.Equal(t, 2, report.Counts[models.OutcomeUpdated])

	require.Len(t, orders.applied, 2)
	assert.Equal(t, appliedTransition{"order-a", models.OrderStatusPending, models.OrderStatusPaid}, orders.applied[0])
	assert.Equal(t, appliedTransition{"order-b", models.OrderStatusPending, models.OrderStatusCancelled}, orders.applied[1])

	require.Len(t, audit.records, 2)
	assert.Equal(t, models.OutcomeUpdated, audit.records[0].Kind)
	assert.Equal(t, models.OrderStatusPaid, audit.records[0].NewStatus)
	assert.False(t, audit.records[0].AmountMismatch)

	assert.Equal(t, 1, locker.lease.released)
}

func TestRunIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.charges["ref-a"] = gateway.Charge{Reference: "ref-a", Status: models.OrderStatusPaid, AmountCents: 9000}

	paid := pendingOrder("order-a", "ref-a", 9000)
	paid.Status = models.OrderStatusPaid
	orders := &fakeOrders{batch: []models.Order{paid}}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	// Agreement means no write at all; a second pass over the same
	// order produces the same result.
	assert.Equal(t, 1, report.Counts[models.OutcomeUnchanged])
	assert.Empty(t, orders.applied)
	require.Len(t, audit.records, 1)
	assert.Equal(t, models.OutcomeUnchanged, audit.records[0].Kind)
	assert.Equal(t, audit.records[0].PreviousStatus, audit.records[0].NewStatus)
}

func TestRunNeverRegressesTerminalStatus(t *testing.T) {
	tests := []struct {
		name    string
		local   models.OrderStatus
		gateway gateway.Charge
	}{
		{
			name:    "paid order reported cancelled",
			local:   models.OrderStatusPaid,
			gateway: gateway.Charge{Status: models.OrderStatusCancelled, RawStatus: "chargeback", AmountCents: 9000},
		},
		{
			name:    "cancelled order reported paid",
			local:   models.OrderStatusCancelled,
			gateway: gateway.Charge{Status: models.OrderStatusPaid, RawStatus: "paid", AmountCents: 9000},
		},
		{
			name:    "expired order reported paid",
			local:   models.OrderStatusExpired,
			gateway: gateway.Charge{Status: models.OrderStatusPaid, RawStatus: "confirmed", AmountCents: 9000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.charges["ref-a"] = tt.gateway

			order := pendingOrder("order-a", "ref-a", 9000)
			order.Status = tt.local
			orders := &fakeOrders{batch: []models.Order{order}}
			audit := &fakeAudit{}

			job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
			report := job.Run(context.Background())

			assert.Equal(t, 1, report.Counts[models.OutcomeConflict])
			assert.Empty(t, orders.applied, "terminal status must never be rewritten")
			require.Len(t, audit.records, 1)
			assert.Equal(t, models.OutcomeConflict, audit.records[0].Kind)
			assert.Equal(t, tt.local, audit.records[0].NewStatus)
		})
	}
}

func TestRunRetryBound(t *testing.T) {
	gw := newFakeGateway()
	gw.errs["ref-a"] = fmt.Errorf("%w: elapsed", gateway.ErrTimeout)

	orders := &fakeOrders{batch: []models.Order{pendingOrder("order-a", "ref-a", 9000)}}
	audit := &fakeAudit{}

	cfg := testConfig()
	cfg.MaxRetries = 3

	job := newTestJob(cfg, gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	assert.Equal(t, 3, gw.calls["ref-a"], "exactly MaxRetries attempts, no more")
	assert.Equal(t, 1, report.Counts[models.OutcomeFailed])
	require.Len(t, audit.records, 1)
	assert.Equal(t, 3, audit.records[0].AttemptCount)
	assert.Equal(t, gateway.ErrKindTimeout, audit.records[0].ErrorKind)
	assert.Equal(t, models.OrderStatusPending, audit.records[0].NewStatus)
}

func TestRunNotFoundIsNotRetried(t *testing.T) {
	gw := newFakeGateway()
	gw.errs["ref-a"] = fmt.Errorf("%w: reference ref-a", gateway.ErrNotFound)

	orders := &fakeOrders{batch: []models.Order{pendingOrder("order-a", "ref-a", 9000)}}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	job.Run(context.Background())

	assert.Equal(t, 1, gw.calls["ref-a"], "not-found is permanent for the cycle")
	require.Len(t, audit.records, 1)
	assert.Equal(t, models.OutcomeFailed, audit.records[0].Kind)
	assert.Equal(t, gateway.ErrKindNotFound, audit.records[0].ErrorKind)
	assert.Equal(t, 1, audit.records[0].AttemptCount)
}

func TestRunIsolatesPerOrderFailures(t *testing.T) {
	gw := newFakeGateway()
	gw.charges["ref-1"] = gateway.Charge{Status: models.OrderStatusPaid, AmountCents: 1000}
	gw.charges["ref-2"] = gateway.Charge{Status: models.OrderStatusPending, AmountCents: 2000}
	gw.errs["ref-3"] = fmt.Errorf("%w: status 503", gateway.ErrServer)
	gw.charges["ref-4"] = gateway.Charge{Status: models.OrderStatusExpired, AmountCents: 4000}

	orders := &fakeOrders{batch: []models.Order{
		pendingOrder("order-1", "ref-1", 1000),
		pendingOrder("order-2", "ref-2", 2000),
		pendingOrder("order-3", "ref-3", 3000),
		pendingOrder("order-4", "ref-4", 4000),
	}}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	assert.Equal(t, 2, report.Counts[models.OutcomeUpdated])
	assert.Equal(t, 1, report.Counts[models.OutcomeUnchanged])
	assert.Equal(t, 1, report.Counts[models.OutcomeFailed])
	assert.Len(t, audit.records, 4, "one audit record per order, failures included")
	require.Len(t, orders.applied, 2)
	assert.Equal(t, "order-1", orders.applied[0].orderID)
	assert.Equal(t, "order-4", orders.applied[1].orderID)
}

func TestRunSkipsOrderWithoutReference(t *testing.T) {
	gw := newFakeGateway()
	orders := &fakeOrders{batch: []models.Order{pendingOrder("order-a", "", 9000)}}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	assert.Equal(t, 1, report.Counts[models.OutcomeSkipped])
	assert.Empty(t, gw.calls)
	require.Len(t, audit.records, 1)
	assert.Equal(t, errKindNoReference, audit.records[0].ErrorKind)
	assert.Zero(t, audit.records[0].AttemptCount)
}

func TestRunFlagsAmountMismatch(t *testing.T) {
	tests := []struct {
		name         string
		orderCents   int64
		gatewayCents int64
		mismatch     bool
	}{
		{"exact match", 9000, 9000, false},
		{"within tolerance", 9000, 9089, false},
		{"boundary is within tolerance", 9000, 9090, false},
		{"outside tolerance", 9000, 9500, true},
		{"short payment outside tolerance", 9000, 8000, true},
		{"gateway amount missing", 9000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.charges["ref-a"] = gateway.Charge{Status: models.OrderStatusPaid, AmountCents: tt.gatewayCents}

			orders := &fakeOrders{batch: []models.Order{pendingOrder("order-a", "ref-a", tt.orderCents)}}
			audit := &fakeAudit{}

			job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
			job.Run(context.Background())

			require.Len(t, audit.records, 1)
			assert.Equal(t, tt.mismatch, audit.records[0].AmountMismatch)
			// A mismatch flags the order but the transition still applies.
			assert.Equal(t, models.OutcomeUpdated, audit.records[0].Kind)
		})
	}
}

func TestRunRecordsConflictWhenGuardedUpdateLoses(t *testing.T) {
	gw := newFakeGateway()
	gw.charges["ref-a"] = gateway.Charge{Status: models.OrderStatusPaid, AmountCents: 9000}

	orders := &fakeOrders{
		batch:    []models.Order{pendingOrder("order-a", "ref-a", 9000)},
		applyErr: store.ErrStatusConflict,
	}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	assert.Equal(t, 1, report.Counts[models.OutcomeConflict])
	require.Len(t, audit.records, 1)
	assert.Equal(t, models.OrderStatusPending, audit.records[0].NewStatus,
		"losing the race must not claim the new status")
}

func TestRunStoreFailureBecomesFailedOutcome(t *testing.T) {
	gw := newFakeGateway()
	gw.charges["ref-a"] = gateway.Charge{Status: models.OrderStatusPaid, AmountCents: 9000}

	orders := &fakeOrders{
		batch:    []models.Order{pendingOrder("order-a", "ref-a", 9000)},
		applyErr: errors.New("pq: connection refused"),
	}
	audit := &fakeAudit{}

	job := newTestJob(testConfig(), gw, orders, audit, &fakeLocker{})
	report := job.Run(context.Background())

	assert.Equal(t, 1, report.Counts[models.OutcomeFailed])
	require.Len(t, audit.records, 1)
	assert.Equal(t, errKindStore, audit.records[0].ErrorKind)
}

func TestRunSkipsCycleWhenLockBusy(t *testing.T) {
	orders := &fakeOrders{batch: []models.Order{pendingOrder("order-a", "ref-a", 9000)}}
	locker := &fakeLocker{err: ErrLockBusy}

	job := newTestJob(testConfig(), newFakeGateway(), orders, &fakeAudit{}, locker)
	report := job.Run(context.Background())

	assert.True(t, report.Skipped)
	assert.Equal(t, "lock_busy", report.SkipReason)
	assert.Zero(t, orders.selectCalls, "busy lock must skip the whole cycle")
}

func TestRunSkipsCycleWhenLockStorageFails(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis: connection refused")}

	job := newTestJob(testConfig(), newFakeGateway(), &fakeOrders{}, &fakeAudit{}, locker)
	report := job.Run(context.Background())

	assert.True(t, report.Skipped)
	assert.Equal(t, "lock_error", report.SkipReason)
}

func TestRunAbortsCycleOnSelectorFailure(t *testing.T) {
	orders := &fakeOrders{selectErr: errors.New("pq: relation does not exist")}
	locker := &fakeLocker{}

	job := newTestJob(testConfig(), newFakeGateway(), orders, &fakeAudit{}, locker)
	report := job.Run(context.Background())

	assert.True(t, report.Skipped)
	assert.Equal(t, "selector_error", report.SkipReason)
	assert.Equal(t, 1, locker.lease.released, "lease is returned even on abort")
}

func TestRunStopsEarlyWhenCycleContextExpires(t *testing.T) {
	gw := newFakeGateway()
	orders := &fakeOrders{batch: []models.Order{
		pendingOrder("order-1", "ref-1", 1000),
		pendingOrder("order-2", "ref-2", 2000),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := newTestJob(testConfig(), gw, orders, &fakeAudit{}, &fakeLocker{})
	report := job.Run(ctx)

	assert.True(t, report.TimedOut)
	assert.Empty(t, gw.calls, "no new per-order work after the deadline")
	assert.Equal(t, 2, report.BatchSize)
	assert.Zero(t, sumCounts(report.Counts))
}

func TestAmountMismatchZeroTolerance(t *testing.T) {
	cfg := testConfig()
	cfg.PriceTolerance = 0

	job := newTestJob(cfg, newFakeGateway(), &fakeOrders{}, &fakeAudit{}, &fakeLocker{})

	assert.False(t, job.amountMismatch(9000, 9000))
	assert.True(t, job.amountMismatch(9000, 9001))
	assert.True(t, job.amountMismatch(9000, 8999))
}
