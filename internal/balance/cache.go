// Package balance keeps a per-address view of on-chain balances that is
// refreshed lazily, invalidated explicitly and never blocks the caller on
// a failed read.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"paylink.io/internal/token"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/xerr"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 15 * time.Second
)

// Reader reads a raw balance from the chain. An empty tokenContract means
// the native coin.
type Reader interface {
	ReadBalance(ctx context.Context, address, tokenContract string) (*big.Int, error)
}

// Trigger names why entries were invalidated.
type Trigger string

const (
	TriggerManual         Trigger = "manual"
	TriggerTransfer       Trigger = "transfer"
	TriggerNetworkChanged Trigger = "network_changed"
	TriggerForeground     Trigger = "foreground"
)

type account struct {
	entries map[string]Entry
	err     error
	// gen changes on every invalidation; a fetch that started under an
	// older gen stores its values as stale
	gen     uint64
	fetched bool
}

type Cache struct {
	mu       sync.RWMutex
	accounts map[string]*account

	tokens []token.Meta
	reader Reader
	sf     singleflight.Group

	ttl          time.Duration
	fetchTimeout time.Duration
	mirror       Mirror
	now          func() time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMirror persists last-known-good balances outside the process.
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// New tracks tokens for every address it is asked about. Typically the
// payment token plus the native coin used for gas.
func New(reader Reader, tokens []token.Meta, opts ...Option) *Cache {
	c := &Cache{
		accounts:     make(map[string]*account),
		tokens:       tokens,
		reader:       reader,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Get returns the cached entry without touching the network. The second
// result is false only for symbols the cache does not track.
func (c *Cache) Get(address, symbol string) (Entry, bool) {
	if !c.tracksSymbol(symbol) {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	acct := c.ensureLocked(normalize(address))
	return c.viewLocked(acct.entries[symbol]), true
}

// Snapshot returns every tracked entry for address plus the last refresh
// error, if any.
func (c *Cache) Snapshot(address string) Snapshot {
	address = normalize(address)

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{Address: address, Entries: make([]Entry, 0, len(c.tokens))}
	acct := c.accounts[address]
	for _, t := range c.tokens {
		if acct == nil {
			snap.Entries = append(snap.Entries, zeroEntry(t))
			continue
		}
		snap.Entries = append(snap.Entries, c.viewLocked(acct.entries[t.Symbol]))
	}
	if acct != nil {
		snap.Err = acct.err
	}
	snap.Stale = acct == nil || c.staleLocked(acct, c.ttl)
	return snap
}

// IsStale is IsStaleWithin with the cache's ttl.
func (c *Cache) IsStale(address string) bool {
	return c.IsStaleWithin(address, c.ttl)
}

// IsStaleWithin reports whether address has no data, any invalidated token,
// or any token older than ttl. One stale token makes the whole address stale.
func (c *Cache) IsStaleWithin(address string, ttl time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	acct := c.accounts[normalize(address)]
	return acct == nil || c.staleLocked(acct, ttl)
}

// Tracks reports whether address has been seen by the cache.
func (c *Cache) Tracks(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.accounts[normalize(address)]
	return ok
}

// Refresh re-reads address unless the cached data is fresh, error free and
// force is false. Concurrent refreshes of one address share one read. A
// failed read keeps the previous values and marks them stale; the error is
// returned alongside the snapshot and is never fatal.
func (c *Cache) Refresh(ctx context.Context, address string, force bool) (Snapshot, error) {
	address = normalize(address)

	if !force && c.fresh(address) {
		metrics.BalanceRefreshTotal.WithLabelValues("hit").Inc()
		return c.Snapshot(address), nil
	}

	ch := c.sf.DoChan(address, func() (interface{}, error) {
		return nil, c.fetch(ctx, address)
	})

	select {
	case res := <-ch:
		switch {
		case res.Err != nil:
			metrics.BalanceRefreshTotal.WithLabelValues("error").Inc()
		case res.Shared:
			metrics.BalanceRefreshTotal.WithLabelValues("joined").Inc()
		default:
			metrics.BalanceRefreshTotal.WithLabelValues("ok").Inc()
		}
		return c.Snapshot(address), res.Err
	case <-ctx.Done():
		// the shared read keeps going for the other callers
		return c.Snapshot(address), ctx.Err()
	}
}

// Invalidate marks one token of address stale, or all of them when symbol
// is empty.
func (c *Cache) Invalidate(address, symbol string) {
	c.invalidate(normalize(address), symbol, TriggerManual)
}

// TransferSubmitted invalidates every address touched by a send.
func (c *Cache) TransferSubmitted(addresses ...string) {
	for _, a := range addresses {
		if a = normalize(a); a != "" {
			c.invalidate(a, "", TriggerTransfer)
		}
	}
}

// NetworkChanged invalidates every known address.
func (c *Cache) NetworkChanged() { c.invalidateAll(TriggerNetworkChanged) }

// Foreground invalidates every known address after the client resumes.
func (c *Cache) Foreground() { c.invalidateAll(TriggerForeground) }

func (c *Cache) invalidate(address, symbol string, trigger Trigger) {
	c.mu.Lock()
	acct := c.ensureLocked(address)
	markStaleLocked(acct, symbol)
	c.mu.Unlock()

	metrics.BalanceInvalidateTotal.WithLabelValues(string(trigger)).Inc()
}

func (c *Cache) invalidateAll(trigger Trigger) {
	c.mu.Lock()
	for _, acct := range c.accounts {
		markStaleLocked(acct, "")
	}
	n := len(c.accounts)
	c.mu.Unlock()

	metrics.BalanceInvalidateTotal.WithLabelValues(string(trigger)).Inc()
	logger.Info(context.Background(), "balances invalidated",
		zap.String("trigger", string(trigger)), zap.Int("addresses", n))
}

func markStaleLocked(acct *account, symbol string) {
	acct.gen++
	for sym, e := range acct.entries {
		if symbol == "" || sym == symbol {
			e.Stale = true
			acct.entries[sym] = e
		}
	}
}

func (c *Cache) fresh(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acct := c.accounts[address]
	return acct != nil && acct.err == nil && !c.staleLocked(acct, c.ttl)
}

func (c *Cache) fetch(ctx context.Context, address string) error {
	// joiners must not lose the read because the first caller went away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	c.mu.Lock()
	acct := c.ensureLocked(address)
	gen, fetched := acct.gen, acct.fetched
	c.mu.Unlock()

	raws, err := c.readAll(ctx, address)
	if err != nil {
		var seed map[string]*big.Int
		var seedAt time.Time
		if !fetched && c.mirror != nil {
			if m, at, ok, merr := c.mirror.Load(ctx, address); merr == nil && ok {
				seed, seedAt = m, at
			}
		}

		c.mu.Lock()
		acct.err = xerr.Wrap(err, xerr.CacheRefreshFailed, "")
		if seed != nil && !acct.fetched {
			c.applyLocked(acct, seed, seedAt, true)
		}
		markStaleLocked(acct, "")
		refreshErr := acct.err
		c.mu.Unlock()

		logger.Warn(ctx, "balance refresh failed, keeping last known values",
			zap.String("address", address), zap.Error(err))
		return refreshErr
	}

	now := c.now()
	c.mu.Lock()
	c.applyLocked(acct, raws, now, acct.gen != gen)
	acct.err = nil
	acct.fetched = true
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.Store(ctx, address, raws, now); err != nil {
			logger.Warn(ctx, "balance mirror store failed", zap.String("address", address), zap.Error(err))
		}
	}
	return nil
}

func (c *Cache) readAll(ctx context.Context, address string) (map[string]*big.Int, error) {
	raws := make([]*big.Int, len(c.tokens))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range c.tokens {
		g.Go(func() error {
			raw, err := c.reader.ReadBalance(gctx, address, t.Contract)
			if err != nil {
				return fmt.Errorf("read %s balance: %w", t.Symbol, err)
			}
			if raw == nil {
				raw = new(big.Int)
			}
			raws[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*big.Int, len(raws))
	for i, t := range c.tokens {
		out[t.Symbol] = raws[i]
	}
	return out, nil
}

// applyLocked swaps in a whole new entry set. Tokens missing from raws keep
// their previous entry.
func (c *Cache) applyLocked(acct *account, raws map[string]*big.Int, at time.Time, stale bool) {
	entries := make(map[string]Entry, len(c.tokens))
	for _, t := range c.tokens {
		raw, ok := raws[t.Symbol]
		if !ok {
			entries[t.Symbol] = acct.entries[t.Symbol]
			continue
		}
		entries[t.Symbol] = Entry{
			Symbol:      t.Symbol,
			RawUnits:    new(big.Int).Set(raw),
			Formatted:   token.Format(raw, t.Decimals),
			LastUpdated: at,
			Stale:       stale,
		}
	}
	acct.entries = entries
}

func (c *Cache) ensureLocked(address string) *account {
	acct, ok := c.accounts[address]
	if ok {
		return acct
	}
	acct = &account{entries: make(map[string]Entry, len(c.tokens))}
	for _, t := range c.tokens {
		acct.entries[t.Symbol] = zeroEntry(t)
	}
	c.accounts[address] = acct
	return acct
}

func (c *Cache) staleLocked(acct *account, ttl time.Duration) bool {
	now := c.now()
	for _, t := range c.tokens {
		e := acct.entries[t.Symbol]
		if e.Stale || now.Sub(e.LastUpdated) > ttl {
			return true
		}
	}
	return false
}

// viewLocked copies e and folds ttl expiry into Stale.
func (c *Cache) viewLocked(e Entry) Entry {
	if e.RawUnits != nil {
		e.RawUnits = new(big.Int).Set(e.RawUnits)
	}
	if !e.Stale && c.now().Sub(e.LastUpdated) > c.ttl {
		e.Stale = true
	}
	return e
}

func (c *Cache) tracksSymbol(symbol string) bool {
	for _, t := range c.tokens {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}
