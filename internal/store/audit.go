package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bilheteria/backend/internal/models"
)

// Audit is the append-only sink for reconciliation outcomes.
type Audit struct {
	db  *sql.DB
	now func() time.Time
}

func NewAudit(db *sql.DB) *Audit {
	return &Audit{db: db, now: time.Now}
}

// Record appends one outcome row. Exactly one row is written per
// order per reconciliation attempt.
func (s *Audit) Record(ctx context.Context, o models.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconciliation_outcomes
		 (order_id, kind, previous_status, new_status, attempt_count, error_kind, amount_mismatch, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		o.OrderID, o.Kind, o.PreviousStatus, o.NewStatus, o.AttemptCount,
		o.ErrorKind, o.AmountMismatch, s.now().UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ListRecent returns the newest outcomes for the back office.
func (s *Audit) ListRecent(ctx context.Context, limit int) ([]models.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, kind, previous_status, new_status, attempt_count, COALESCE(error_kind, ''), amount_mismatch, created_at
		 FROM reconciliation_outcomes
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []models.Outcome{}
	for rows.Next() {
		var o models.Outcome
		if err := rows.Scan(&o.OrderID, &o.Kind, &o.PreviousStatus, &o.NewStatus,
			&o.AttemptCount, &o.ErrorKind, &o.AmountMismatch, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// PurgeOlderThan deletes outcome rows past the retention window and
// returns how many went. Maintenance path only, never run per cycle.
func (s *Audit) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reconciliation_outcomes WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge outcomes: %w", err)
	}
	return res.RowsAffected()
}
