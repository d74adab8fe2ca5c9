package monitor

import (
	"context"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one inbound transaction as the record source reports it. IDs
// grow with insertion order and are stable across queries.
type Record struct {
	ID          uint64    `json:"id"`
	ToOwnerID   string    `json:"to_owner_id"`
	Status      string    `json:"status"`
	TokenSymbol string    `json:"token_symbol"`
	Amount      string    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	// CompletedAt is zero when the source does not track completion.
	CompletedAt time.Time `json:"completed_at"`
	FromDisplay string    `json:"from_display"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// settledAt is when r reached its current status, as far as the source
// knows. A record completed in place keeps its CreatedAt.
func (r Record) settledAt() time.Time {
	if !r.CompletedAt.IsZero() {
		return r.CompletedAt
	}
	return r.CreatedAt
}

// Query returns the newest records addressed to ownerID, newest first.
type Query interface {
	QueryRecent(ctx context.Context, ownerID string, limit int) ([]Record, error)
}

// Notifier is told about each match once.
type Notifier interface {
	PaymentReceived(ctx context.Context, session SessionInfo, rec Record) error
}
