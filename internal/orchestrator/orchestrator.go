// Package orchestrator turns a scanned payment payload into a transfer and
// keeps balances and history consistent with its outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"paylink.io/internal/balance"
	"paylink.io/internal/notify"
	"paylink.io/internal/payment"
	"paylink.io/internal/records"
	"paylink.io/internal/token"
	"paylink.io/internal/transfer"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/xerr"
)

type Executor interface {
	Transfer(ctx context.Context, req transfer.Request) transfer.Result
}

type BalanceCache interface {
	Refresh(ctx context.Context, address string, force bool) (balance.Snapshot, error)
	TransferSubmitted(addresses ...string)
	Tracks(address string) bool
}

type RecordWriter interface {
	Create(ctx context.Context, r *records.PaymentRecord) error
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type EventPublisher interface {
	TransferSubmitted(ctx context.Context, ev notify.TransferSubmitted) error
}

// Instruction is a validated, amount-resolved transfer ready to execute.
type Instruction struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	Request        payment.PaymentRequest `json:"request"`
	Recipient      string                 `json:"recipient"`
	Amount         string                 `json:"amount"`
	Token          token.Meta             `json:"token"`
	Description    string                 `json:"description,omitempty"`
}

// WithIdempotencyKey replaces the generated key with one the caller reuses
// across retries of the same send, so a retry joins the first submission.
// An empty key keeps the generated one.
func (ins Instruction) WithIdempotencyKey(key string) Instruction {
	if key != "" {
		ins.IdempotencyKey = key
	}
	return ins
}

type Outcome struct {
	Instruction Instruction
	From        string
	Status      transfer.Status
	TxHash      string
	Result      transfer.Result
	Err         error
}

type Config struct {
	Token   token.Meta
	ChainID int64
	// Sender is the account transfers are sent from.
	Sender string
	// CheckBalance rejects sends larger than the sender's known balance.
	CheckBalance bool
}

type Orchestrator struct {
	cfg      Config
	exec     Executor
	cache    BalanceCache
	records  RecordWriter
	health   HealthChecker
	events   EventPublisher
	adapters []payment.Adapter
	tracer   trace.Tracer
	newKey   func() string
}

type Option func(*Orchestrator)

func WithRecords(w RecordWriter) Option  { return func(o *Orchestrator) { o.records = w } }
func WithHealth(h HealthChecker) Option  { return func(o *Orchestrator) { o.health = h } }
func WithEvents(p EventPublisher) Option { return func(o *Orchestrator) { o.events = p } }
func WithAdapters(a ...payment.Adapter) Option {
	return func(o *Orchestrator) { o.adapters = append(o.adapters, a...) }
}

func New(cfg Config, exec Executor, cache BalanceCache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		exec:   exec,
		cache:  cache,
		tracer: otel.Tracer("paylink/orchestrator"),
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RequestPayment encodes a payment request to recipient for the supported
// token. An empty amount asks the payer to choose one.
func (o *Orchestrator) RequestPayment(recipient, amount, description string) (string, payment.PaymentRequest, error) {
	if !payment.IsValidAddress(recipient) {
		return "", payment.PaymentRequest{}, xerr.New(xerr.InvalidFormat, "recipient is not a valid address")
	}
	if amount == "" {
		amount = "0"
	}
	if _, err := payment.ParseAmount(amount); err != nil {
		return "", payment.PaymentRequest{}, err
	}
	if _, err := rawAmount(amount, o.cfg.Token); err != nil {
		return "", payment.PaymentRequest{}, err
	}

	raw := payment.Encode(recipient, amount, o.cfg.Token, description, o.cfg.ChainID)
	req, err := payment.Decode(raw)
	if err != nil {
		return "", payment.PaymentRequest{}, err
	}
	return raw, req, nil
}

// Inspect decodes and validates scanned without resolving the amount, for
// showing the payer what they are about to pay.
func (o *Orchestrator) Inspect(scanned string) (payment.PaymentRequest, error) {
	req, err := payment.DecodeWith(scanned, o.adapters...)
	if err != nil {
		return payment.PaymentRequest{}, err
	}
	if err := payment.Validate(req, o.cfg.Token); err != nil {
		return payment.PaymentRequest{}, err
	}
	if o.cfg.ChainID != 0 && req.ChainID != 0 && req.ChainID != o.cfg.ChainID {
		return payment.PaymentRequest{}, xerr.New(xerr.UnsupportedToken,
			fmt.Sprintf("payment request is for chain %d, connected to %d", req.ChainID, o.cfg.ChainID))
	}
	return req, nil
}

// BuildOutgoingTransfer decodes and validates scanned. An open-amount
// request takes userAmount, which must be positive; a fixed amount is used
// verbatim and userAmount is ignored, since the payload is the requester's
// terms.
func (o *Orchestrator) BuildOutgoingTransfer(scanned, userAmount string) (Instruction, error) {
	req, err := o.Inspect(scanned)
	if err != nil {
		return Instruction{}, err
	}

	if req.IsOpenAmount() {
		amount, err := payment.ParseAmount(userAmount)
		if err != nil {
			return Instruction{}, err
		}
		if !amount.IsPositive() {
			return Instruction{}, xerr.New(xerr.InvalidAmount, "enter an amount greater than zero")
		}
		req = req.WithAmount(userAmount)
		if err := payment.Validate(req, o.cfg.Token); err != nil {
			return Instruction{}, err
		}
	}

	if _, err := rawAmount(req.Amount, o.cfg.Token); err != nil {
		return Instruction{}, err
	}

	return Instruction{
		IdempotencyKey: o.newKey(),
		Request:        req,
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		Token:          req.Token(),
		Description:    req.Description,
	}, nil
}

// ExecuteAndReconcile runs the pre-flight checks, sends, and on Submitted
// invalidates the sender (and the recipient when it is a known address)
// and records the pending payment. Failed and TimedOut leave caches alone.
func (o *Orchestrator) ExecuteAndReconcile(ctx context.Context, ins Instruction) Outcome {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ExecuteAndReconcile", trace.WithAttributes(
		attribute.String("idempotency_key", ins.IdempotencyKey),
		attribute.String("recipient", ins.Recipient),
		attribute.String("amount", ins.Amount),
		attribute.String("token", ins.Token.Symbol),
	))
	defer span.End()

	out := o.execute(ctx, ins)

	span.SetAttributes(attribute.String("status", out.Status.String()))
	if out.TxHash != "" {
		span.SetAttributes(attribute.String("tx_hash", out.TxHash))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, xerr.MapErrMsg(xerr.CodeOf(out.Err)))
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, ins Instruction) Outcome {
	out := Outcome{Instruction: ins, From: o.cfg.Sender, Status: transfer.Failed}

	if err := o.preflight(ctx, ins); err != nil {
		out.Err = err
		logger.Warn(ctx, "transfer rejected before submission", zap.Error(err))
		return out
	}

	res := o.exec.Transfer(ctx, transfer.Request{
		IdempotencyKey: ins.IdempotencyKey,
		Recipient:      ins.Recipient,
		Amount:         ins.Amount,
		Token:          ins.Token,
	})
	out.Result, out.Status, out.TxHash, out.Err = res, res.Status, res.TxHash, res.Err

	if res.Status != transfer.Submitted {
		return out
	}

	touched := []string{o.cfg.Sender}
	if o.cache.Tracks(ins.Recipient) {
		touched = append(touched, ins.Recipient)
	}
	o.cache.TransferSubmitted(touched...)

	// a joined call was reconciled by the call it joined
	if !res.Joined {
		o.recordSubmitted(ctx, ins, res)
	}
	return out
}

func (o *Orchestrator) preflight(ctx context.Context, ins Instruction) error {
	if o.health != nil {
		if err := o.health.Health(ctx); err != nil {
			if xerr.CodeOf(err) != xerr.ChainUnavailable {
				err = xerr.Wrap(err, xerr.ChainUnavailable, "")
			}
			return err
		}
	}

	if !o.cfg.CheckBalance || o.cfg.Sender == "" {
		return nil
	}
	need, err := rawAmount(ins.Amount, ins.Token)
	if err != nil {
		return err
	}
	snap, err := o.cache.Refresh(ctx, o.cfg.Sender, false)
	if err != nil {
		// unknown balance: let the chain decide
		logger.Warn(ctx, "balance check skipped", zap.String("sender", o.cfg.Sender), zap.Error(err))
		return nil
	}
	entry, ok := snap.Entry(ins.Token.Symbol)
	if !ok || entry.RawUnits == nil {
		return nil
	}
	if entry.RawUnits.Cmp(need) < 0 {
		return xerr.New(xerr.InsufficientBalance,
			fmt.Sprintf("insufficient %s balance: have %s, need %s", ins.Token.Symbol, entry.Formatted, ins.Amount))
	}
	return nil
}

func (o *Orchestrator) recordSubmitted(ctx context.Context, ins Instruction, res transfer.Result) {
	attempt := 0
	if last, ok := res.Last(); ok {
		attempt = last.Number
	}
	logger.Info(ctx, "payment submitted",
		zap.String("tx_hash", res.TxHash), zap.String("to", ins.Recipient),
		zap.String("amount", ins.Amount), zap.Int("attempt", attempt))

	if o.records != nil {
		rec := &records.PaymentRecord{
			TxHash:         res.TxHash,
			FromAddress:    o.cfg.Sender,
			ToAddress:      ins.Recipient,
			ToOwnerID:      ins.Recipient,
			FromDisplay:    payment.FormatAddress(o.cfg.Sender),
			TokenSymbol:    ins.Token.Symbol,
			Amount:         ins.Amount,
			Description:    ins.Description,
			IdempotencyKey: ins.IdempotencyKey,
		}
		if err := o.records.Create(ctx, rec); err != nil {
			logger.Error(ctx, "failed to record submitted payment", zap.String("tx_hash", res.TxHash), zap.Error(err))
		}
	}

	if o.events != nil {
		err := o.events.TransferSubmitted(ctx, notify.TransferSubmitted{
			IdempotencyKey: ins.IdempotencyKey,
			TxHash:         res.TxHash,
			From:           o.cfg.Sender,
			To:             ins.Recipient,
			Amount:         ins.Amount,
			Token:          ins.Token.Symbol,
			Attempt:        attempt,
		})
		if err != nil {
			logger.Warn(ctx, "transfer event publish failed", zap.Error(err))
		}
	}
}

func rawAmount(amount string, meta token.Meta) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.InvalidAmount, "")
	}
	raw, err := token.ToBaseUnits(d, meta.Decimals)
	switch {
	case errors.Is(err, token.ErrPrecisionLoss):
		return nil, xerr.Wrap(err, xerr.InvalidAmount, fmt.Sprintf("%s supports at most %d decimals", meta.Symbol, meta.Decimals))
	case err != nil:
		return nil, xerr.Wrap(err, xerr.InvalidAmount, "")
	}
	return raw, nil
}
