package models

import "time"

// OutcomeKind classifies the result of reconciling one order.
type OutcomeKind string

const (
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeConflict  OutcomeKind = "conflict"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Outcome is the audit record produced for every per-order
// reconciliation attempt. Exactly one is emitted per order per cycle.
type Outcome struct {
	OrderID        string      `json:"order_id" db:"order_id"`
	Kind           OutcomeKind `json:"kind" db:"kind"`
	PreviousStatus OrderStatus `json:"previous_status" db:"previous_status"`
	NewStatus      OrderStatus `json:"new_status" db:"new_status"`
	AttemptCount   int         `json:"attempt_count" db:"attempt_count"`
	ErrorKind      string      `json:"error_kind,omitempty" db:"error_kind"`
	AmountMismatch bool        `json:"amount_mismatch" db:"amount_mismatch"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}
