package transfer

import (
	"context"
	"math/big"
	"time"

	"paylink.io/internal/token"
)

// Call describes one token transfer as the chain sees it.
type Call struct {
	Token    token.Meta
	To       string
	Amount   *big.Int
	GasLimit uint64
}

// Submitter is the signing chain connection. SubmitTransfer returns once
// the transaction is accepted by the node, not when it is mined.
type Submitter interface {
	EstimateGas(ctx context.Context, call Call) (uint64, error)
	SubmitTransfer(ctx context.Context, call Call) (txHash string, err error)
}

// Locker guards an idempotency key across process instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

type Status int

const (
	Pending Status = iota
	Submitted
	Failed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reason refines a Failed status for user-facing messages.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUserRejected      Reason = "user_rejected"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonNetwork           Reason = "network_error"
	ReasonInvalidAmount     Reason = "invalid_amount"
	ReasonInProgress        Reason = "in_progress"
	ReasonCancelled         Reason = "cancelled"
)

// Request is one user-initiated send. Calls sharing an IdempotencyKey
// produce at most one submission.
type Request struct {
	IdempotencyKey string
	Recipient      string
	Amount         string // human units
	Token          token.Meta
}

type Attempt struct {
	Recipient string
	AmountRaw *big.Int
	GasLimit  uint64
	Number    int
	StartedAt time.Time
	Status    Status
	TxHash    string
	Reason    Reason
	Err       error
}

type Result struct {
	Status      Status
	TxHash      string
	Reason      Reason
	AmountRaw   *big.Int
	Attempts    []Attempt
	GasFallback bool
	// Joined is set when the result came from another call with the same key.
	Joined bool
	Err    error
}

// Last returns the final attempt, if any was made.
func (r Result) Last() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}
