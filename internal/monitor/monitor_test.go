package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeQuery struct {
	mu    sync.Mutex
	recs  []Record
	err   error
	calls atomic.Int32
}

func (f *fakeQuery) QueryRecent(context.Context, string, int) ([]Record, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Record(nil), f.recs...), nil
}

func (f *fakeQuery) set(recs []Record, err error) {
	f.mu.Lock()
	f.recs, f.err = recs, err
	f.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	recs []Record
}

func (n *fakeNotifier) PaymentReceived(_ context.Context, _ SessionInfo, rec Record) error {
	n.mu.Lock()
	n.recs = append(n.recs, rec)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.recs)
}

func rec(id uint64, created time.Time) Record {
	return Record{ID: id, ToOwnerID: owner, Status: StatusCompleted, TokenSymbol: "USDC", Amount: "25.50", CreatedAt: created}
}

// manual returns a monitor whose loop never ticks on its own.
func manual(q Query, opts ...Option) *Monitor {
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return New(q, Config{PollInterval: time.Hour, MaxDuration: time.Hour, Token: "USDC"}, opts...)
}

func TestStart_Baseline(t *testing.T) {
	q := &fakeQuery{recs: []Record{rec(3, t0.Add(-time.Hour)), rec(5, t0.Add(-time.Minute))}}
	m := manual(q)
	defer m.Close()

	s, err := m.Start(context.Background(), "  0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA ")
	require.NoError(t, err)
	assert.Equal(t, owner, s.OwnerID)
	assert.Equal(t, uint64(5), s.BaselineRecordID)
	assert.True(t, s.BaselineKnown)
	assert.Equal(t, t0, s.StartedAt)
	assert.True(t, s.Active())
}

func TestStart_BaselineSkipsPending(t *testing.T) {
	pending := rec(7, t0.Add(-time.Minute))
	pending.Status = StatusPending
	other := rec(9, t0.Add(-time.Minute))
	other.TokenSymbol = "SEI"
	q := &fakeQuery{recs: []Record{rec(5, t0.Add(-time.Hour)), pending, other}}
	m := manual(q)
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), s.BaselineRecordID)

	// the pending send completes in place while the session runs
	completed := rec(7, t0.Add(-time.Minute))
	completed.CompletedAt = t0.Add(time.Second)
	q.set([]Record{rec(5, t0.Add(-time.Hour)), completed, other}, nil)
	m.tick(context.Background(), s)

	got, ok := s.Match()
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.ID)
}

func TestTick_CompletionTimeWhenBaselineUnknown(t *testing.T) {
	q := &fakeQuery{err: errors.New("db down")}
	m := manual(q)
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)
	require.False(t, s.BaselineKnown)

	old := rec(3, t0.Add(-time.Hour))
	old.CompletedAt = t0.Add(-time.Minute)
	q.set([]Record{old}, nil)
	m.tick(context.Background(), s)
	assert.True(t, s.Active(), "completed before the session started")

	late := rec(4, t0.Add(-time.Minute))
	late.CompletedAt = t0.Add(time.Second)
	q.set([]Record{old, late}, nil)
	m.tick(context.Background(), s)
	got, ok := s.Match()
	require.True(t, ok)
	assert.Equal(t, uint64(4), got.ID)
}

func TestTick_MatchesOnlyRecordsAfterBaseline(t *testing.T) {
	q := &fakeQuery{recs: []Record{rec(5, t0.Add(-time.Minute))}}
	n := &fakeNotifier{}
	m := manual(q, WithNotifier(n))
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	// R6 carries a slightly skewed timestamp; the id alone qualifies it
	q.set([]Record{rec(4, t0.Add(-2*time.Minute)), rec(6, t0.Add(-time.Second))}, nil)
	m.tick(context.Background(), s)

	got, ok := s.Match()
	require.True(t, ok)
	assert.Equal(t, uint64(6), got.ID)
	assert.Equal(t, Matched, s.State())
	assert.Equal(t, 1, n.count())

	m.tick(context.Background(), s)
	assert.Equal(t, 1, n.count(), "at most one match per session")
}

func TestTick_TimeSignalWhenBaselineUnknown(t *testing.T) {
	q := &fakeQuery{err: errors.New("db down")}
	m := manual(q)
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)
	assert.False(t, s.BaselineKnown)

	q.set([]Record{rec(1, t0.Add(-time.Minute))}, nil)
	m.tick(context.Background(), s)
	assert.True(t, s.Active(), "old record must not match")

	q.set([]Record{rec(1, t0.Add(-time.Minute)), rec(2, t0.Add(time.Second))}, nil)
	m.tick(context.Background(), s)
	got, ok := s.Match()
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.ID)
}

func TestTick_Filters(t *testing.T) {
	tests := []struct {
		name string
		edit func(r *Record)
	}{
		{name: "other owner", edit: func(r *Record) { r.ToOwnerID = "0xbbbb" }},
		{name: "pending", edit: func(r *Record) { r.Status = StatusPending }},
		{name: "failed", edit: func(r *Record) { r.Status = StatusFailed }},
		{name: "other token", edit: func(r *Record) { r.TokenSymbol = "SEI" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuery{}
			m := manual(q)
			defer m.Close()
			s, err := m.Start(context.Background(), owner)
			require.NoError(t, err)

			r := rec(7, t0.Add(time.Second))
			tt.edit(&r)
			q.set([]Record{r}, nil)
			m.tick(context.Background(), s)

			assert.True(t, s.Active())
		})
	}
}

func TestTick_PicksOldestQualifying(t *testing.T) {
	q := &fakeQuery{}
	m := manual(q)
	defer m.Close()
	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	q.set([]Record{rec(9, t0.Add(2*time.Second)), rec(8, t0.Add(time.Second))}, nil)
	m.tick(context.Background(), s)

	got, _ := s.Match()
	assert.Equal(t, uint64(8), got.ID)
}

func TestTick_FailureKeepsSession(t *testing.T) {
	q := &fakeQuery{}
	m := manual(q)
	defer m.Close()
	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	q.set(nil, errors.New("timeout"))
	m.tick(context.Background(), s)
	assert.True(t, s.Active())

	q.set([]Record{rec(1, t0.Add(time.Second))}, nil)
	m.tick(context.Background(), s)
	assert.Equal(t, Matched, s.State())
}

func TestStart_ReplacesPreviousSession(t *testing.T) {
	q := &fakeQuery{}
	n := &fakeNotifier{}
	m := manual(q, WithNotifier(n))
	defer m.Close()

	old, err := m.Start(context.Background(), owner)
	require.NoError(t, err)
	cur, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, Replaced, old.State())
	select {
	case <-old.Done():
	default:
		t.Fatal("replaced session must be done")
	}

	// a tick of the old session that was already in flight
	q.set([]Record{rec(1, t0.Add(time.Second))}, nil)
	m.tick(context.Background(), old)
	_, matched := old.Match()
	assert.False(t, matched)
	assert.Equal(t, 0, n.count())

	got, ok := m.Get(owner)
	require.True(t, ok)
	assert.Same(t, cur, got)
}

func TestStop(t *testing.T) {
	m := manual(&fakeQuery{})
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	assert.True(t, m.StopOwner(owner))
	assert.Equal(t, Stopped, s.State())
	assert.False(t, m.Stop(s), "already stopped")
	_, ok := m.Get(owner)
	assert.False(t, ok)
	assert.False(t, m.StopOwner(owner))

	latest, ok := m.Latest(owner)
	require.True(t, ok)
	assert.Same(t, s, latest)
	assert.Equal(t, Stopped, latest.Info().State)
}

func TestRun_PollsUntilMatch(t *testing.T) {
	q := &fakeQuery{}
	n := &fakeNotifier{}
	m := New(q, Config{PollInterval: 5 * time.Millisecond, MaxDuration: time.Minute}, WithNotifier(n))
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	q.set([]Record{rec(1, time.Now().Add(time.Second))}, nil)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("no match")
	}
	assert.Equal(t, Matched, s.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, n.count())
	_, ok := m.Get(owner)
	assert.False(t, ok)
}

func TestRun_Expires(t *testing.T) {
	q := &fakeQuery{}
	m := New(q, Config{PollInterval: 5 * time.Millisecond, MaxDuration: 30 * time.Millisecond})
	defer m.Close()

	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not expire")
	}
	assert.Equal(t, Expired, s.State())
	assert.False(t, s.Info().EndedAt.IsZero())

	calls := q.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, q.calls.Load(), "no polling after expiry")
}

func TestClose(t *testing.T) {
	m := manual(&fakeQuery{})
	s, err := m.Start(context.Background(), owner)
	require.NoError(t, err)

	m.Close()
	assert.Equal(t, Stopped, s.State())

	_, err = m.Start(context.Background(), owner)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_RequiresOwner(t *testing.T) {
	m := manual(&fakeQuery{})
	defer m.Close()
	_, err := m.Start(context.Background(), "  ")
	assert.Error(t, err)
}
