package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paylink.io/internal/monitor"
	"paylink.io/pkg/orm"
	"paylink.io/pkg/xerr"
)

const (
	alice = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	bob   = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := orm.Open(&orm.Config{Driver: "sqlite", DSN: ":memory:", MaxOpen: 1})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func payment(hash string) *PaymentRecord {
	return &PaymentRecord{
		TxHash:      hash,
		FromAddress: OwnerID(alice),
		ToAddress:   bob,
		ToOwnerID:   bob,
		TokenSymbol: "USDC",
		Amount:      "25.50",
	}
}

func TestCreate_NormalizesAndDefaults(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := payment("0x01")
	require.NoError(t, s.Create(ctx, r))
	assert.NotZero(t, r.ID)

	got, err := s.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, OwnerID(bob), got.ToOwnerID)
	assert.Equal(t, monitor.StatusPending, got.Status)
}

func TestCreate_DuplicateHash(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, payment("0x01")))
	err := s.Create(ctx, payment("0x01"))
	assert.Equal(t, xerr.DbError, xerr.CodeOf(err))
}

func TestUpsertCompleted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	pending := payment("0x01")
	require.NoError(t, s.Create(ctx, pending))

	seen := payment("0x01")
	seen.BlockNumber = 42
	require.NoError(t, s.UpsertCompleted(ctx, seen))

	got, err := s.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, got.ID, "existing record is completed in place")
	assert.Equal(t, monitor.StatusCompleted, got.Status)
	assert.Equal(t, uint64(42), got.BlockNumber)
	require.NotNil(t, got.CompletedAt)
	first := *got.CompletedAt

	// seen again after a watcher restart
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpsertCompleted(ctx, payment("0x01")))
	got, err = s.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, first.Equal(*got.CompletedAt), "completion time is kept")

	require.NoError(t, s.UpsertCompleted(ctx, payment("0x02")))
	rows, err := s.ListByOwner(ctx, bob, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpdateStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, payment("0x01")))

	require.NoError(t, s.UpdateStatus(ctx, "0x01", monitor.StatusFailed))
	got, err := s.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusFailed, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateStatus(ctx, "0x01", monitor.StatusCompleted))
	got, err = s.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)

	err = s.UpdateStatus(ctx, "0xmissing", monitor.StatusFailed)
	assert.True(t, xerr.Is(err, xerr.RecordNotFound))

	_, err = s.GetByTxHash(ctx, "0xmissing")
	assert.True(t, xerr.Is(err, xerr.RecordNotFound))
}

func TestQueryRecent_NewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, h := range []string{"0x01", "0x02", "0x03"} {
		require.NoError(t, s.UpsertCompleted(ctx, payment(h)))
	}
	other := payment("0x04")
	other.ToOwnerID = alice
	require.NoError(t, s.Create(ctx, other))

	recs, err := s.QueryRecent(ctx, bob, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "0x03", recs[0].TxHash)
	assert.Equal(t, "0x02", recs[1].TxHash)
	assert.Greater(t, recs[0].ID, recs[1].ID)
	assert.Equal(t, monitor.StatusCompleted, recs[0].Status)

	sent, err := s.ListBySender(ctx, alice, 0)
	require.NoError(t, err)
	assert.Len(t, sent, 4)

	empty, err := s.ListByOwner(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransaction_RollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Create(ctx, payment("0x01")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetByTxHash(ctx, "0x01")
	assert.True(t, xerr.Is(err, xerr.RecordNotFound))
}

func TestStore_FeedsMonitor(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertCompleted(ctx, payment("0x01")))

	m := monitor.New(s, monitor.Config{Token: "USDC"})
	defer m.Close()
	sess, err := m.Start(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sess.BaselineRecordID)
}

func TestStore_MonitorSeesPendingCompletedInPlace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// sent before the requester starts watching, confirmed after
	require.NoError(t, s.Create(ctx, payment("0x01")))

	m := monitor.New(s, monitor.Config{Token: "USDC", PollInterval: 5 * time.Millisecond, MaxDuration: time.Second})
	defer m.Close()
	sess, err := m.Start(ctx, bob)
	require.NoError(t, err)
	assert.True(t, sess.BaselineKnown)
	assert.Zero(t, sess.BaselineRecordID)

	require.NoError(t, s.UpsertCompleted(ctx, payment("0x01")))

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	require.Equal(t, monitor.Matched, sess.State())
	got, ok := sess.Match()
	require.True(t, ok)
	assert.Equal(t, "0x01", got.TxHash)
	assert.False(t, got.CompletedAt.IsZero())
}
