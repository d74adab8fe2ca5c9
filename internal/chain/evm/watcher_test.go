package evm

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paylink.io/internal/records"
)

type memSink struct {
	mu   sync.Mutex
	recs []records.PaymentRecord
}

func (s *memSink) UpsertCompleted(_ context.Context, r *records.PaymentRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, *r)
	s.mu.Unlock()
	return nil
}

func transferLog(block uint64, hash string, from, to common.Address, amount int64) types.Log {
	return types.Log{
		Address:     common.HexToAddress(usdc.Contract),
		Topics:      []common.Hash{TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash(hash),
	}
}

func TestWatcher_Scan(t *testing.T) {
	to := common.HexToAddress(bob)
	b := &fakeBackend{
		head: 20,
		logs: []types.Log{
			transferLog(5, "0x01", devAddr, to, 25_500_000),
			transferLog(18, "0x02", devAddr, to, 1_000_000),
			transferLog(19, "0x03", devAddr, to, 1),
		},
	}
	sink := &memSink{}
	var touched []string
	w := NewWatcher(newClient(t, b, false), usdc, sink, WatcherConfig{Confirmations: 2, Step: 10, StartBlock: 1}).
		OnTransfer(func(from, to string) { touched = append(touched, from, to) })

	require.NoError(t, w.scan(context.Background()))

	require.Len(t, sink.recs, 2, "block 19 is not confirmed yet")
	r := sink.recs[0]
	assert.Equal(t, "25.50", r.Amount)
	assert.Equal(t, "USDC", r.TokenSymbol)
	assert.Equal(t, records.OwnerID(bob), r.ToOwnerID)
	assert.Equal(t, "0xf39f...2266", r.FromDisplay)
	assert.Equal(t, uint64(5), r.BlockNumber)
	assert.Equal(t, "1.00", sink.recs[1].Amount)
	assert.Equal(t, uint64(19), w.next)
	assert.Len(t, touched, 4)

	require.Len(t, b.logCalls, 2)
	assert.Equal(t, uint64(1), b.logCalls[0].FromBlock.Uint64())
	assert.Equal(t, uint64(10), b.logCalls[0].ToBlock.Uint64())
	assert.Equal(t, uint64(18), b.logCalls[1].ToBlock.Uint64())

	b.mu.Lock()
	b.head = 21
	b.mu.Unlock()
	require.NoError(t, w.scan(context.Background()))
	assert.Len(t, sink.recs, 3)
}

func TestWatcher_StartsAtSafeHead(t *testing.T) {
	b := &fakeBackend{head: 100, logs: []types.Log{transferLog(50, "0x01", devAddr, common.HexToAddress(bob), 1)}}
	sink := &memSink{}
	w := NewWatcher(newClient(t, b, false), usdc, sink, WatcherConfig{Confirmations: 1})

	require.NoError(t, w.scan(context.Background()))
	assert.Empty(t, sink.recs, "history before start is not replayed")
	assert.Equal(t, uint64(100), w.next)
}

func TestWatcher_SkipsRemovedAndForeignLogs(t *testing.T) {
	removed := transferLog(3, "0x01", devAddr, common.HexToAddress(bob), 1)
	removed.Removed = true
	approval := transferLog(3, "0x02", devAddr, common.HexToAddress(bob), 1)
	approval.Topics[0] = common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925")

	b := &fakeBackend{head: 5, logs: []types.Log{removed, approval}}
	sink := &memSink{}
	w := NewWatcher(newClient(t, b, false), usdc, sink, WatcherConfig{StartBlock: 1})

	require.NoError(t, w.scan(context.Background()))
	assert.Empty(t, sink.recs)
}
