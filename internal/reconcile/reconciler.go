package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/gateway"
	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

// Error kinds produced by the reconciler itself (gateway kinds come
// from the gateway package).
const (
	errKindNoReference = "no_reference"
	errKindStore       = "store_error"
)

// GatewayClient is the slice of the gateway the reconciler needs.
type GatewayClient interface {
	QueryCharge(ctx context.Context, reference string) (gateway.Charge, error)
}

// OrderSource selects eligible orders and applies guarded transitions.
type OrderSource interface {
	SelectPendingBatch(ctx context.Context, limit int, minAge, maxAge time.Duration) ([]models.Order, error)
	ApplyStatus(ctx context.Context, orderID string, from, to models.OrderStatus) error
}

// AuditSink records one outcome per order per attempt.
type AuditSink interface {
	Record(ctx context.Context, o models.Outcome) error
}

// CycleReport summarizes one scheduler tick.
type CycleReport struct {
	StartedAt  time.Time                  `json:"started_at"`
	Duration   time.Duration              `json:"duration"`
	Skipped    bool                       `json:"skipped"`
	SkipReason string                     `json:"skip_reason,omitempty"`
	BatchSize  int                        `json:"batch_size"`
	TimedOut   bool                       `json:"timed_out"`
	Counts     map[models.OutcomeKind]int `json:"counts"`
}

// Job reconciles locally recorded orders against the payment gateway's
// ground truth. One instance runs per process; the Locker keeps it to
// one active cycle cluster-wide.
type Job struct {
	cfg     config.ReconcileConfig
	gateway GatewayClient
	orders  OrderSource
	audit   AuditSink
	locker  Locker
	metrics *Metrics
	log     *zap.Logger
}

func NewJob(cfg config.ReconcileConfig, gw GatewayClient, orders OrderSource, audit AuditSink, locker Locker, metrics *Metrics, log *zap.Logger) *Job {
	return &Job{
		cfg:     cfg,
		gateway: gw,
		orders:  orders,
		audit:   audit,
		locker:  locker,
		metrics: metrics,
		log:     log,
	}
}

// Run executes one reconciliation cycle: acquire the lease (or skip),
// select a batch, reconcile each order sequentially, record outcomes,
// release the lease. Cycle-level failures abort cleanly with all
// orders untouched; the next tick retries independently.
func (j *Job) Run(ctx context.Context) CycleReport {
	report := CycleReport{
		StartedAt: time.Now(),
		Counts:    map[models.OutcomeKind]int{},
	}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	lease, err := j.locker.TryAcquire(ctx)
	if errors.Is(err, ErrLockBusy) {
		j.log.Info("reconcile cycle skipped, lock held elsewhere")
		report.Skipped = true
		report.SkipReason = "lock_busy"
		return report
	}
	if err != nil {
		j.log.Warn("reconcile cycle skipped, lock storage unavailable", zap.Error(err))
		report.Skipped = true
		report.SkipReason = "lock_error"
		return report
	}
	defer func() {
		// The cycle context may already be expired; the release gets
		// its own short deadline so the lease is still returned early.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			j.log.Warn("failed to release reconcile lock, lease will expire on its own", zap.Error(err))
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, j.cfg.ExecutionTimeout)
	defer cancel()

	batch, err := j.orders.SelectPendingBatch(cycleCtx, j.cfg.BatchSize, j.cfg.MinOrderAge, j.cfg.MaxOrderAge)
	if err != nil {
		j.log.Error("reconcile cycle aborted, batch selection failed", zap.Error(err))
		report.Skipped = true
		report.SkipReason = "selector_error"
		return report
	}

	j.metrics.BeginCycle(report.StartedAt)
	report.BatchSize = len(batch)
	j.log.Info("reconcile cycle started", zap.Int("batch_size", len(batch)))

	for _, order := range batch {
		// Cancellation is cooperative: the overall timeout stops new
		// per-order work but never preempts an order mid-retry.
		if cycleCtx.Err() != nil {
			j.log.Warn("execution timeout reached, stopping cycle early",
				zap.Int("processed", sumCounts(report.Counts)),
				zap.Int("batch_size", len(batch)))
			report.TimedOut = true
			break
		}

		outcome := j.reconcileOne(cycleCtx, order)
		if err := j.audit.Record(ctx, outcome); err != nil {
			j.log.Error("failed to record reconciliation outcome",
				zap.String("order_id", outcome.OrderID), zap.Error(err))
		}
		j.metrics.Observe(outcome)
		report.Counts[outcome.Kind]++
	}

	j.log.Info("reconcile cycle finished",
		zap.Int("batch_size", report.BatchSize),
		zap.Bool("timed_out", report.TimedOut),
		zap.Any("counts", report.Counts))
	return report
}

// reconcileOne compares one order against the gateway and computes the
// required local update, if any. Per-order failures are converted into
// outcomes and never abort the batch.
func (j *Job) reconcileOne(ctx context.Context, order models.Order) models.Outcome {
	out := models.Outcome{
		OrderID:        order.ID,
		PreviousStatus: order.Status,
		NewStatus:      order.Status,
	}

	if order.PaymentReference == "" {
		out.Kind = models.OutcomeSkipped
		out.ErrorKind = errKindNoReference
		return out
	}

	charge, attempts, err := j.queryWithRetry(ctx, order.PaymentReference)
	out.AttemptCount = attempts
	if err != nil {
		out.Kind = models.OutcomeFailed
		out.ErrorKind = gateway.ErrorKind(err)
		j.log.Warn("gateway lookup exhausted",
			zap.String("order_id", order.ID),
			zap.Int("attempts", attempts),
			zap.String("error_kind", out.ErrorKind))
		return out
	}

	if j.amountMismatch(order.AmountCents, charge.AmountCents) {
		out.AmountMismatch = true
		j.log.Warn("charge amount outside tolerance",
			zap.String("order_id", order.ID),
			zap.Int64("order_cents", order.AmountCents),
			zap.Int64("gateway_cents", charge.AmountCents))
	}

	switch {
	case charge.Status == order.Status:
		// No write at all, so an unchanged order keeps its updatedAt.
		out.Kind = models.OutcomeUnchanged

	case order.Status.Terminal():
		// Terminal states are never regressed or silently changed;
		// the disagreement is surfaced for external review.
		out.Kind = models.OutcomeConflict
		j.log.Warn("gateway disagrees with terminal local status",
			zap.String("order_id", order.ID),
			zap.String("local", string(order.Status)),
			zap.String("gateway", string(charge.Status)))

	default:
		if err := j.orders.ApplyStatus(ctx, order.ID, order.Status, charge.Status); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				// A webhook raced us past the guarded update.
				out.Kind = models.OutcomeConflict
				return out
			}
			out.Kind = models.OutcomeFailed
			out.ErrorKind = errKindStore
			j.log.Error("failed to apply status update",
				zap.String("order_id", order.ID), zap.Error(err))
			return out
		}
		out.Kind = models.OutcomeUpdated
		out.NewStatus = charge.Status
	}
	return out
}

// queryWithRetry calls the gateway with up to MaxRetries attempts and
// exponential backoff. Only timeouts and server errors are retried; a
// NotFound is permanent for this cycle.
func (j *Job) queryWithRetry(ctx context.Context, reference string) (gateway.Charge, int, error) {
	var charge gateway.Charge
	attempts := 0

	op := func() error {
		attempts++
		c, err := j.gateway.QueryCharge(ctx, reference)
		if err != nil {
			if !gateway.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		charge = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = j.cfg.RetryDelay
	policy.Multiplier = j.cfg.BackoffMultiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	policy.Reset()

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(j.cfg.MaxRetries-1)), ctx))
	if err != nil {
		return gateway.Charge{}, attempts, err
	}
	return charge, attempts, nil
}

// amountMismatch checks the gateway-reported amount against the
// locally stored one with the configured tolerance fraction.
func (j *Job) amountMismatch(orderCents, gatewayCents int64) bool {
	if orderCents <= 0 || gatewayCents <= 0 {
		return false
	}
	diff := gatewayCents - orderCents
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) > j.cfg.PriceTolerance*float64(orderCents)
}

func sumCounts(counts map[models.OutcomeKind]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
