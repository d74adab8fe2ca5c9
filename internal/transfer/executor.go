// Package transfer submits token transfers with gas estimation, one retry,
// a hard timeout and idempotent de-duplication.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"paylink.io/internal/token"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/safe"
	"paylink.io/pkg/xerr"
)

type Config struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	DefaultGasLimit  uint64        `mapstructure:"default_gas_limit"`
	IdempotencyGrace time.Duration `mapstructure:"idempotency_grace"`
	// LateResultWindow bounds how long a timed-out submission may keep
	// running in the background.
	LateResultWindow time.Duration `mapstructure:"late_result_window"`
}

func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DefaultGasLimit == 0 {
		c.DefaultGasLimit = 100_000
	}
	if c.IdempotencyGrace <= 0 {
		c.IdempotencyGrace = 10 * time.Minute
	}
	if c.LateResultWindow <= 0 {
		c.LateResultWindow = 2 * time.Minute
	}
}

const maxAttempts = 2

var errSubmitPanicked = errors.New("transfer: submitter panicked")

type call struct {
	done chan struct{}
	res  Result
	// zero while in flight
	expires time.Time
}

type Executor struct {
	sub    Submitter
	cfg    Config
	locker Locker
	now    func() time.Time

	mu    sync.Mutex
	calls map[string]*call
}

type Option func(*Executor)

// WithLocker adds a cross-instance guard on idempotency keys.
func WithLocker(l Locker) Option {
	return func(e *Executor) { e.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(sub Submitter, cfg Config, opts ...Option) *Executor {
	cfg.ApplyDefaults()
	e := &Executor{
		sub:   sub,
		cfg:   cfg,
		now:   time.Now,
		calls: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EstimateGas returns the estimate plus a 20% buffer. When estimation fails
// it returns the default gas limit and fallback=true; a failed estimate is
// not taken as proof the transfer would fail.
func (e *Executor) EstimateGas(ctx context.Context, c Call) (gas uint64, fallback bool) {
	base, fallback := e.estimate(ctx, c)
	if fallback {
		return base, true
	}
	return mulCeil(base, 12, 10), false
}

func (e *Executor) estimate(ctx context.Context, c Call) (uint64, bool) {
	est, err := e.sub.EstimateGas(ctx, c)
	if err != nil || est == 0 {
		metrics.GasFallbackTotal.Inc()
		logger.Warn(ctx, "gas estimation failed, using default limit",
			zap.String("to", c.To), zap.Uint64("gas_limit", e.cfg.DefaultGasLimit), zap.Error(err))
		return e.cfg.DefaultGasLimit, true
	}
	return est, false
}

// Transfer sends req.Amount of req.Token to req.Recipient. A second call
// with the same idempotency key joins the first while it runs, and replays
// its result for the grace period when it ended Submitted or TimedOut.
// Failed keys are released immediately so the user may retry.
func (e *Executor) Transfer(ctx context.Context, req Request) Result {
	start := time.Now()
	res := e.transfer(ctx, req)
	if !res.Joined {
		metrics.TransferDuration.WithLabelValues(res.Status.String()).Observe(time.Since(start).Seconds())
	}
	return res
}

func (e *Executor) transfer(ctx context.Context, req Request) Result {
	key := req.IdempotencyKey
	if key == "" {
		return e.run(ctx, req)
	}

	e.mu.Lock()
	e.pruneLocked()
	if c, ok := e.calls[key]; ok {
		e.mu.Unlock()
		return e.join(ctx, key, c)
	}
	c := &call{done: make(chan struct{})}
	e.calls[key] = c
	e.mu.Unlock()

	res := e.runGuarded(ctx, req)

	c.res = res
	e.mu.Lock()
	switch res.Status {
	case Submitted, TimedOut:
		c.expires = e.now().Add(e.cfg.IdempotencyGrace)
	default:
		delete(e.calls, key)
	}
	e.mu.Unlock()
	close(c.done)
	return res
}

func (e *Executor) join(ctx context.Context, key string, c *call) Result {
	logger.Info(ctx, "transfer joined in-flight call", zap.String("idempotency_key", key))
	select {
	case <-c.done:
		res := c.res
		res.Attempts = append([]Attempt(nil), res.Attempts...)
		res.Joined = true
		return res
	case <-ctx.Done():
		return Result{
			Status: Pending,
			Reason: ReasonInProgress,
			Joined: true,
			Err:    xerr.Wrap(ctx.Err(), xerr.TransferInProgress, ""),
		}
	}
}

func (e *Executor) pruneLocked() {
	now := e.now()
	for k, c := range e.calls {
		if !c.expires.IsZero() && !now.Before(c.expires) {
			delete(e.calls, k)
		}
	}
}

// runGuarded holds the distributed lock around run. Submitted and TimedOut
// keys stay locked until the lock expires.
func (e *Executor) runGuarded(ctx context.Context, req Request) Result {
	if e.locker == nil {
		return e.run(ctx, req)
	}

	release, ok, err := e.locker.Acquire(ctx, "transfer:"+req.IdempotencyKey, e.cfg.IdempotencyGrace)
	if err != nil {
		logger.Warn(ctx, "idempotency lock unavailable, using local guard only",
			zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		return e.run(ctx, req)
	}
	if !ok {
		return Result{
			Status: Pending,
			Reason: ReasonInProgress,
			Err:    xerr.NewErrCode(xerr.TransferInProgress),
		}
	}

	res := e.run(ctx, req)
	if res.Status == Failed {
		release(context.WithoutCancel(ctx))
	}
	return res
}

func (e *Executor) run(ctx context.Context, req Request) Result {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return invalidAmount(err)
	}
	raw, err := token.ToBaseUnits(amount, req.Token.Decimals)
	if err != nil {
		return invalidAmount(err)
	}
	if raw.Sign() == 0 {
		return invalidAmount(nil)
	}

	res := Result{AmountRaw: raw}
	if err := ctx.Err(); err != nil {
		return cancelled(ctx, res, err)
	}

	c := Call{Token: req.Token, To: req.Recipient, Amount: raw}
	base, fallback := e.estimate(ctx, c)
	gas := [maxAttempts]uint64{mulCeil(base, 12, 10), mulCeil(base, 15, 10)}
	if fallback {
		gas[0] = base
	}

	res.GasFallback = fallback
	for n := 1; n <= maxAttempts; n++ {
		// nothing is broadcast for a caller that already left
		if err := ctx.Err(); err != nil {
			if n == 1 {
				return cancelled(ctx, res, err)
			}
			break
		}
		c.GasLimit = gas[n-1]
		a := e.attempt(ctx, c, n)
		res.Attempts = append(res.Attempts, a)
		if a.Status != Failed {
			break
		}
		if n < maxAttempts {
			logger.Warn(ctx, "transfer attempt failed, retrying with higher gas",
				zap.Int("attempt", n), zap.Uint64("next_gas_limit", gas[n]), zap.Error(a.Err))
		}
	}

	last, _ := res.Last()
	res.Status, res.TxHash, res.Reason = last.Status, last.TxHash, last.Reason
	switch last.Status {
	case Submitted:
		logger.Info(ctx, "transfer submitted",
			zap.String("tx_hash", last.TxHash), zap.String("to", req.Recipient),
			zap.String("amount", req.Amount), zap.String("token", req.Token.Symbol), zap.Int("attempt", last.Number))
	case TimedOut:
		res.Err = xerr.Wrap(last.Err, xerr.TransferTimedOut, "")
		logger.Warn(ctx, "transfer timed out, outcome unknown",
			zap.String("to", req.Recipient), zap.Int("attempt", last.Number))
	default:
		res.Err = xerr.Wrap(last.Err, xerr.TransferFailed, reasonMessage(last.Reason))
		logger.Error(ctx, "transfer failed",
			zap.String("to", req.Recipient), zap.String("reason", string(last.Reason)), zap.Error(last.Err))
	}
	return res
}

type outcome struct {
	hash string
	err  error
}

// attempt races one submission against the hard timeout. The submit call
// keeps running past the timeout; its late result is only logged.
func (e *Executor) attempt(ctx context.Context, c Call, n int) Attempt {
	a := Attempt{
		Recipient: c.To,
		AmountRaw: c.Amount,
		GasLimit:  c.GasLimit,
		Number:    n,
		StartedAt: e.now(),
		Status:    Pending,
	}

	ch := make(chan outcome, 1)
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout+e.cfg.LateResultWindow)
	safe.GoCtx(ctx, func(context.Context) {
		defer cancel()
		out := outcome{err: errSubmitPanicked}
		defer func() { ch <- out }()
		out.hash, out.err = e.sub.SubmitTransfer(subCtx, c)
	})

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			a.Status, a.Reason, a.Err = Failed, classify(out.err), out.err
		} else {
			a.Status, a.TxHash = Submitted, out.hash
		}
	case <-timer.C:
		a.Status = TimedOut
		e.drainLate(ctx, n, ch)
	case <-ctx.Done():
		// the caller gave up; the send may still land
		a.Status, a.Err = TimedOut, ctx.Err()
		e.drainLate(ctx, n, ch)
	}

	metrics.TransferAttemptTotal.WithLabelValues(a.Status.String(), string(a.Reason)).Inc()
	return a
}

func (e *Executor) drainLate(ctx context.Context, n int, ch <-chan outcome) {
	safe.GoCtx(context.WithoutCancel(ctx), func(ctx context.Context) {
		out := <-ch
		if out.err != nil {
			logger.Warn(ctx, "late transfer result after timeout", zap.Int("attempt", n), zap.Error(out.err))
			return
		}
		logger.Warn(ctx, "transfer landed after timeout", zap.Int("attempt", n), zap.String("tx_hash", out.hash))
	})
}

func cancelled(ctx context.Context, res Result, err error) Result {
	logger.Warn(ctx, "transfer cancelled before submission", zap.Error(err))
	res.Status, res.Reason = Failed, ReasonCancelled
	res.Err = xerr.Wrap(err, xerr.TransferFailed, reasonMessage(ReasonCancelled))
	return res
}

func invalidAmount(err error) Result {
	if err == nil {
		err = xerr.New(xerr.InvalidAmount, "amount must be positive")
	} else {
		err = xerr.Wrap(err, xerr.InvalidAmount, "")
	}
	return Result{Status: Failed, Reason: ReasonInvalidAmount, Err: err}
}

// mulCeil returns ceil(v*num/den).
func mulCeil(v, num, den uint64) uint64 {
	return (v*num + den - 1) / den
}
