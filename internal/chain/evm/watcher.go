package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"paylink.io/internal/payment"
	"paylink.io/internal/records"
	"paylink.io/internal/token"
	"paylink.io/pkg/logger"
)

type WatcherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Confirmations uint64        `mapstructure:"confirmations"`
	Step          uint64        `mapstructure:"step"`
	// StartBlock 0 means the current safe head
	StartBlock uint64 `mapstructure:"start_block"`
}

func (c *WatcherConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Step == 0 {
		c.Step = 500
	}
}

// Sink stores confirmed transfers.
type Sink interface {
	UpsertCompleted(ctx context.Context, r *records.PaymentRecord) error
}

// Watcher turns confirmed token Transfer logs into completed payment
// records, which is what the payment monitor polls.
type Watcher struct {
	client *Client
	token  token.Meta
	sink   Sink
	cfg    WatcherConfig

	// called for both ends of every stored transfer
	onTransfer func(from, to string)

	next uint64
}

func NewWatcher(client *Client, tok token.Meta, sink Sink, cfg WatcherConfig) *Watcher {
	cfg.ApplyDefaults()
	return &Watcher{client: client, token: tok, sink: sink, cfg: cfg, next: cfg.StartBlock}
}

// OnTransfer registers fn to run after a transfer is stored.
func (w *Watcher) OnTransfer(fn func(from, to string)) *Watcher {
	w.onTransfer = fn
	return w
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger.Info(ctx, "transfer watcher started",
		zap.String("token", w.token.Symbol), zap.String("contract", w.token.Contract),
		zap.Uint64("confirmations", w.cfg.Confirmations))

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "transfer watcher stopped")
			return
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				logger.Error(ctx, "transfer watcher scan failed", zap.Uint64("next_block", w.next), zap.Error(err))
			}
		}
	}
}

// scan processes every block up to the confirmed head. The cursor only
// moves past a range once all of its records are stored.
func (w *Watcher) scan(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < w.cfg.Confirmations {
		return nil
	}
	safe := head - w.cfg.Confirmations
	if w.next == 0 {
		w.next = safe
	}

	for from := w.next; from <= safe; {
		to := from + w.cfg.Step - 1
		if to > safe {
			to = safe
		}

		logs, err := w.fetch(ctx, from, to)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if err := w.store(ctx, l); err != nil {
				return err
			}
		}

		w.next = to + 1
		from = to + 1
	}
	return nil
}

func (w *Watcher) fetch(ctx context.Context, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(w.token.Contract)},
		Topics:    [][]common.Hash{{TransferTopic}},
	}
	var logs []types.Log
	err := w.client.call(ctx, "eth_getLogs", func(ctx context.Context) (err error) {
		logs, err = w.client.backend.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

func (w *Watcher) store(ctx context.Context, l types.Log) error {
	if l.Removed || len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return nil
	}
	from := strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex())
	to := strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex())
	raw := new(big.Int).SetBytes(l.Data)

	rec := &records.PaymentRecord{
		TxHash:      l.TxHash.Hex(),
		FromAddress: from,
		ToAddress:   to,
		ToOwnerID:   to,
		FromDisplay: payment.FormatAddress(from),
		TokenSymbol: w.token.Symbol,
		Amount:      token.Format(raw, w.token.Decimals),
		BlockNumber: l.BlockNumber,
	}
	if err := w.sink.UpsertCompleted(ctx, rec); err != nil {
		return err
	}

	logger.Debug(ctx, "token transfer recorded",
		zap.String("tx_hash", rec.TxHash), zap.String("to", to), zap.String("amount", rec.Amount))
	if w.onTransfer != nil {
		w.onTransfer(from, to)
	}
	return nil
}
