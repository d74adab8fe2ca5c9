package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRPC = errors.New("rpc unavailable")

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 3, Timeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		err := m.Do("eth_call", func() error { return errRPC })
		require.ErrorIs(t, err, errRPC)
	}

	called := false
	err := m.Do("eth_call", func() error { called = true; return nil })
	assert.False(t, called, "an open breaker must not run the call")
	assert.True(t, IsRejected(err))
	assert.Equal(t, gobreaker.StateOpen, m.Get("eth_call").State())

	// other methods keep their own breaker
	assert.NoError(t, m.Do("eth_blockNumber", func() error { return nil }))
}

func TestManager_BenignErrorsDoNotTrip(t *testing.T) {
	errRevert := errors.New("execution reverted")
	m := NewManager(Rule{TripConsecutiveFailures: 2}, nil).
		WithBenign(func(err error) bool { return errors.Is(err, errRevert) })

	for i := 0; i < 5; i++ {
		_ = m.Do("eth_estimateGas", func() error { return errRevert })
		_ = m.Do("eth_estimateGas", func() error { return context.Canceled })
	}
	assert.Equal(t, gobreaker.StateClosed, m.Get("eth_estimateGas").State())
}

func TestManager_PerMethodRule(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 100}, map[string]Rule{
		"eth_sendRawTransaction": {TripConsecutiveFailures: 1, MaxRequests: 1, Interval: time.Second, Timeout: time.Minute},
	})

	_ = m.Do("eth_sendRawTransaction", func() error { return errRPC })
	assert.Equal(t, gobreaker.StateOpen, m.Get("eth_sendRawTransaction").State())

	_ = m.Do("eth_call", func() error { return errRPC })
	assert.Equal(t, gobreaker.StateClosed, m.Get("eth_call").State())
}

func TestStore_AllowAndCleanup(t *testing.T) {
	s := NewStore(1, 2, time.Millisecond)

	assert.True(t, s.Allow("rpc"))
	assert.True(t, s.Allow("rpc"))
	assert.False(t, s.Allow("rpc"), "burst exhausted")
	assert.True(t, s.Allow("other"))

	time.Sleep(5 * time.Millisecond)
	s.cleanup()
	assert.Equal(t, 0, s.size())
}

func TestStore_WaitHonoursContext(t *testing.T) {
	s := NewStore(0.001, 1, time.Minute)
	require.NoError(t, s.Wait(context.Background(), "rpc"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(ctx, "rpc"))
}
