package notify

import (
	"context"
	"time"

	"github.com/segmentio/encoding/json"
	"paylink.io/internal/monitor"
)

const (
	SubjectPaymentReceived   = "paylink.payment.received"
	SubjectTransferSubmitted = "paylink.transfer.submitted"
)

type PaymentReceived struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	RecordID   uint64    `json:"record_id"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Amount     string    `json:"amount"`
	Token      string    `json:"token"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

type TransferSubmitted struct {
	IdempotencyKey string    `json:"idempotency_key"`
	TxHash         string    `json:"tx_hash"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Amount         string    `json:"amount"`
	Token          string    `json:"token"`
	Attempt        int       `json:"attempt"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Notifier publishes payment events as JSON.
type Notifier struct {
	broker Broker
	now    func() time.Time
}

var _ monitor.Notifier = (*Notifier)(nil)

func NewNotifier(b Broker) *Notifier {
	return &Notifier{broker: b, now: time.Now}
}

func (n *Notifier) PaymentReceived(ctx context.Context, s monitor.SessionInfo, rec monitor.Record) error {
	return n.publish(ctx, SubjectPaymentReceived, PaymentReceived{
		SessionID:  s.ID,
		OwnerID:    s.OwnerID,
		RecordID:   rec.ID,
		TxHash:     rec.TxHash,
		Amount:     rec.Amount,
		Token:      rec.TokenSymbol,
		From:       rec.FromDisplay,
		ReceivedAt: n.now(),
	})
}

func (n *Notifier) TransferSubmitted(ctx context.Context, ev TransferSubmitted) error {
	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = n.now()
	}
	return n.publish(ctx, SubjectTransferSubmitted, ev)
}

func (n *Notifier) publish(ctx context.Context, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.broker.Publish(ctx, subject, b)
}
