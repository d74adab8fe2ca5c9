// Package monitor watches the record source for an inbound payment to an
// owner, one session per owner at a time.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/safe"
	"paylink.io/pkg/xerr"
)

var ErrClosed = errors.New("monitor: closed")

type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	QueryLimit   int           `mapstructure:"query_limit"`
	// Token is the expected symbol; empty accepts any.
	Token string `mapstructure:"token"`
}

func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = 20
	}
}

type Monitor struct {
	query    Query
	cfg      Config
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	// latest session per owner, kept after it ends so callers can read the outcome
	latest map[string]*Session
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Monitor)

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(q Query, cfg Config, opts ...Option) *Monitor {
	cfg.ApplyDefaults()
	m := &Monitor{
		query:    q,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
		latest:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session for owner and replaces any active one. A failed
// baseline query does not fail Start.
func (m *Monitor) Start(ctx context.Context, owner string) (*Session, error) {
	owner = normalizeOwner(owner)
	if owner == "" {
		return nil, xerr.New(xerr.RequestParamsError, "owner id is required")
	}

	baseline, known := m.baseline(ctx, owner)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:               uuid.NewString(),
		OwnerID:          owner,
		BaselineRecordID: baseline,
		BaselineKnown:    known,
		StartedAt:        m.now(),
		state:            Active,
		done:             make(chan struct{}),
		cancel:           cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if prev, ok := m.sessions[owner]; ok {
		m.end(prev, Replaced, nil)
	}
	m.sessions[owner] = s
	m.latest[owner] = s
	m.wg.Add(1)
	m.mu.Unlock()

	safe.GoCtx(loopCtx, func(ctx context.Context) {
		defer m.wg.Done()
		m.run(ctx, s)
	})

	logger.Info(ctx, "payment monitoring started",
		zap.String("session_id", s.ID), zap.String("owner", owner),
		zap.Uint64("baseline", baseline), zap.Bool("baseline_known", known))
	return s, nil
}

// Stop ends s if it is still active.
func (m *Monitor) Stop(s *Session) bool {
	ok := m.end(s, Stopped, nil)
	m.release(s)
	return ok
}

// StopOwner stops the active session of owner, if any.
func (m *Monitor) StopOwner(owner string) bool {
	s, ok := m.Get(owner)
	if !ok {
		return false
	}
	return m.Stop(s)
}

// Get returns the active session of owner.
func (m *Monitor) Get(owner string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[normalizeOwner(owner)]
	if !ok || !s.Active() {
		return nil, false
	}
	return s, true
}

// Latest returns the most recent session of owner, active or ended.
func (m *Monitor) Latest(owner string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.latest[normalizeOwner(owner)]
	return s, ok
}

// Close stops every session and waits for the poll loops to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	for _, s := range m.sessions {
		m.end(s, Stopped, nil)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) baseline(ctx context.Context, owner string) (uint64, bool) {
	recs, err := m.query.QueryRecent(ctx, owner, m.cfg.QueryLimit)
	if err != nil {
		logger.Warn(ctx, "baseline query failed, matching by time only",
			zap.String("owner", owner), zap.Error(err))
		return 0, false
	}
	// pending records complete in place under the id they already have, so
	// only records that could have matched already count
	var latest uint64
	for _, r := range recs {
		if m.eligible(owner, r) && r.ID > latest {
			latest = r.ID
		}
	}
	return latest, true
}

func (m *Monitor) run(ctx context.Context, s *Session) {
	defer m.release(s)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	expiry := time.NewTimer(m.cfg.MaxDuration)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			if m.end(s, Expired, nil) {
				logger.Info(ctx, "payment monitoring expired without a match",
					zap.String("session_id", s.ID), zap.String("owner", s.OwnerID))
			}
			return
		case <-ticker.C:
			m.tick(ctx, s)
			if !s.Active() {
				return
			}
		}
	}
}

// tick polls once. Errors are logged and the session keeps running.
func (m *Monitor) tick(ctx context.Context, s *Session) {
	if !s.Active() {
		metrics.MonitorTickTotal.WithLabelValues("inactive").Inc()
		return
	}

	recs, err := m.query.QueryRecent(ctx, s.OwnerID, m.cfg.QueryLimit)
	if err != nil {
		metrics.MonitorTickTotal.WithLabelValues("error").Inc()
		logger.Warn(ctx, "payment monitor tick failed",
			zap.String("session_id", s.ID), zap.Error(xerr.Wrap(err, xerr.MonitoringFailed, "")))
		return
	}

	rec, ok := m.pick(s, recs)
	if !ok {
		metrics.MonitorTickTotal.WithLabelValues("empty").Inc()
		return
	}

	// the session may have been stopped or replaced while the query ran
	if !m.end(s, Matched, &rec) {
		metrics.MonitorTickTotal.WithLabelValues("inactive").Inc()
		return
	}
	metrics.MonitorTickTotal.WithLabelValues("match").Inc()

	logger.Info(ctx, "payment received",
		zap.String("session_id", s.ID), zap.String("owner", s.OwnerID),
		zap.Uint64("record_id", rec.ID), zap.String("amount", rec.Amount),
		zap.String("token", rec.TokenSymbol), zap.String("from", rec.FromDisplay))

	if m.notifier != nil {
		if err := m.notifier.PaymentReceived(ctx, s.Info(), rec); err != nil {
			logger.Warn(ctx, "payment notification failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// pick returns the oldest qualifying record.
func (m *Monitor) pick(s *Session, recs []Record) (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range recs {
		if !m.eligible(s.OwnerID, r) || !s.newer(r) {
			continue
		}
		if !found || r.ID < best.ID {
			best, found = r, true
		}
	}
	return best, found
}

// eligible reports whether r is a completed payment to owner in the
// monitored token.
func (m *Monitor) eligible(owner string, r Record) bool {
	if !strings.EqualFold(r.ToOwnerID, owner) || r.Status != StatusCompleted {
		return false
	}
	return m.cfg.Token == "" || strings.EqualFold(r.TokenSymbol, m.cfg.Token)
}

func (m *Monitor) end(s *Session, state State, rec *Record) bool {
	if !s.finish(state, rec, m.now()) {
		return false
	}
	metrics.MonitorSessionTotal.WithLabelValues(state.String()).Inc()
	return true
}

func (m *Monitor) release(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.OwnerID]; ok && cur == s {
		delete(m.sessions, s.OwnerID)
	}
	m.mu.Unlock()
}
