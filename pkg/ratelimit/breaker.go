package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"paylink.io/pkg/metrics"
)

type Rule struct {
	// probes allowed while half-open (0 means 1 in gobreaker)
	MaxRequests uint32

	// counting window while closed
	Interval time.Duration

	// >0 enables a rolling window with buckets of this size
	BucketPeriod time.Duration

	// how long the breaker stays open before probing
	Timeout time.Duration

	// trip on either condition
	TripConsecutiveFailures uint32
	TripFailureRate         float64
	TripMinRequests         uint32
}

// Manager hands out one breaker per method, created on first use.
type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule

	// benign reports errors that say nothing about the dependency's health
	benign func(error) bool
}

func NewManager(defaultRule Rule, perMethod map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 16),
		defaultRule: defaultRule,
		rules:       perMethod,
	}
}

// WithBenign sets the predicate for errors that must not count as failures,
// e.g. contract reverts caused by the caller's input.
func (m *Manager) WithBenign(fn func(error) bool) *Manager {
	m.benign = fn
	return m
}

func (m *Manager) Get(method string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.RLock()
	cb := m.m[method]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[method]; cb != nil {
		return cb
	}

	rule, ok := m.rules[method]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         method,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},

		IsSuccessful: m.isSuccessful,

		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CBState.WithLabelValues(name).Set(float64(to))
		},
	}

	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	m.m[method] = cb
	return cb
}

// Do runs fn through the breaker for method.
func (m *Manager) Do(method string, fn func() error) error {
	cb := m.Get(method)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(method, cb.State().String()).Inc()
	}
	return err
}

func (m *Manager) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	// the caller gave up; the dependency did nothing wrong
	if errors.Is(err, context.Canceled) {
		return true
	}
	if m.benign != nil && m.benign(err) {
		return true
	}
	return false
}

// IsRejected reports whether err came from an open or saturated breaker.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
