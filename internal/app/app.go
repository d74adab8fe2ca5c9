// Package app wires the paylink service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"paylink.io/internal/api"
	"paylink.io/internal/api/handler"
	"paylink.io/internal/balance"
	"paylink.io/internal/chain/evm"
	"paylink.io/internal/monitor"
	"paylink.io/internal/notify"
	"paylink.io/internal/orchestrator"
	"paylink.io/internal/payment"
	"paylink.io/internal/records"
	"paylink.io/internal/token"
	"paylink.io/internal/transfer"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/orm"
	"paylink.io/pkg/safe"
	"paylink.io/pkg/trace"
	"paylink.io/pkg/xredis"
)

type App struct {
	cfg Config

	db     *gorm.DB
	rdb    *redis.Client
	broker notify.Broker
	chain  *evm.Client

	records *records.Store
	cache   *balance.Cache
	exec    *transfer.Executor
	monitor *monitor.Monitor
	orch    *orchestrator.Orchestrator
	watcher *evm.Watcher

	traceShutdown func(context.Context) error
	closers       []func()
}

// New loads nothing itself: cfg comes from config.LoadAndWatch in main.
func New(ctx context.Context, cfg Config) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.LogFile != "" {
		logger.InitWithFile(cfg.Name, cfg.LogLevel, cfg.LogFile)
	} else {
		logger.Init(cfg.Name, cfg.LogLevel)
	}
	metrics.MustRegister()

	a := &App{cfg: cfg}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	shutdown, err := trace.InitTrace(ctx, a.cfg.Name, a.cfg.Trace)
	if err != nil {
		return err
	}
	a.traceShutdown = shutdown

	if err := a.openStores(ctx); err != nil {
		return err
	}
	if err := a.openBroker(); err != nil {
		return err
	}

	signer, err := evm.NewSigner(a.cfg.Chain.Config)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}
	a.chain, err = evm.Dial(ctx, a.cfg.Chain.Config, signer)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}

	tok := a.cfg.Chain.Token.Meta()
	tracked := []token.Meta{tok, a.cfg.Chain.Native.Meta()}

	cacheOpts := []balance.Option{
		balance.WithTTL(a.cfg.Balance.TTL),
		balance.WithFetchTimeout(a.cfg.Balance.FetchTimeout),
	}
	var execOpts []transfer.Option
	if a.rdb != nil {
		cacheOpts = append(cacheOpts, balance.WithMirror(balance.NewRedisMirror(a.rdb, a.cfg.Balance.MirrorTTL)))
		execOpts = append(execOpts, transfer.WithLocker(xredis.NewLocker(a.rdb, "paylink:transfer:")))
	}
	a.cache = balance.New(a.chain, tracked, cacheOpts...)
	a.exec = transfer.NewExecutor(a.chain, a.cfg.Transfer, execOpts...)

	notifier := notify.NewNotifier(a.broker)
	a.monitor = monitor.New(a.records, monitor.Config{
		PollInterval: a.cfg.Monitor.PollInterval,
		MaxDuration:  a.cfg.Monitor.MaxDuration,
		QueryLimit:   a.cfg.Monitor.QueryLimit,
		Token:        tok.Symbol,
	}, monitor.WithNotifier(notifier))

	orchOpts := []orchestrator.Option{
		orchestrator.WithRecords(a.records),
		orchestrator.WithHealth(a.chain),
		orchestrator.WithEvents(notifier),
	}
	if a.cfg.Chain.LegacyPayloads {
		orchOpts = append(orchOpts, orchestrator.WithAdapters(payment.LegacyBusinessRequest(tok, a.chain.ChainID().Int64())))
	}
	a.orch = orchestrator.New(orchestrator.Config{
		Token:        tok,
		ChainID:      a.chain.ChainID().Int64(),
		Sender:       a.chain.Address(),
		CheckBalance: a.cfg.Chain.CheckBalance,
	}, a.exec, a.cache, orchOpts...)

	if a.cfg.Watcher.Enabled {
		a.watcher = evm.NewWatcher(a.chain, tok, a.records, a.cfg.Watcher).OnTransfer(a.transferSeen)
	}

	logger.Info(ctx, "paylink ready",
		zap.String("sender", a.chain.Address()),
		zap.Int64("chain_id", a.chain.ChainID().Int64()),
		zap.String("token", tok.Symbol),
		zap.Bool("redis", a.rdb != nil),
		zap.Bool("nats", a.cfg.Nats.Enabled),
		zap.Bool("watcher", a.watcher != nil))
	return nil
}

func (a *App) openStores(ctx context.Context) error {
	db, err := orm.Open(&a.cfg.DB)
	if err != nil {
		return err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	a.records = records.New(db)
	if err := a.records.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate records: %w", err)
	}

	if !a.cfg.Redis.Enabled {
		return nil
	}
	rdb, err := xredis.NewRedis(ctx, &a.cfg.Redis.Config)
	if err != nil {
		return err
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return nil
}

func (a *App) openBroker() error {
	if !a.cfg.Nats.Enabled {
		a.broker = notify.NewMemBroker()
		return nil
	}
	b, err := notify.NewNatsBroker(a.cfg.Nats.URL, nats.Name(a.cfg.Name))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.broker = b
	a.closers = append(a.closers, func() { _ = b.Close() })
	return nil
}

// transferSeen invalidates both ends of a confirmed transfer when the cache
// already tracks them; unknown addresses are not added.
func (a *App) transferSeen(from, to string) {
	for _, addr := range []string{from, to} {
		if a.cache.Tracks(addr) {
			a.cache.TransferSubmitted(addr)
		}
	}
}

// Run serves HTTP and runs the background loops until ctx is done, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.watcher != nil {
		safe.GoCtx(runCtx, a.watcher.Run)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		safe.GoCtx(runCtx, func(ctx context.Context) { metrics.ObserveDB(ctx, sqlDB, 15*time.Second) })
	}
	if a.rdb != nil {
		safe.GoCtx(runCtx, func(ctx context.Context) { metrics.ObserveRedis(ctx, a.rdb, 15*time.Second) })
	}
	if err := a.logEvents(runCtx); err != nil {
		logger.Warn(ctx, "event log subscription failed", zap.Error(err))
	}

	engine := api.NewRouter(runCtx, a.cfg.Name, a.cfg.HTTP, api.Handlers{
		Payment: handler.NewPayment(a.orch),
		Balance: handler.NewBalance(a.cache),
		Monitor: handler.NewMonitor(a.monitor),
	})
	srv := api.NewServer(a.cfg.HTTP, engine)

	errCh := make(chan error, 1)
	safe.Go(func() {
		logger.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error(ctx, "http server failed", zap.Error(runErr))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	return runErr
}

// logEvents mirrors published events into the log.
func (a *App) logEvents(ctx context.Context) error {
	ch, err := a.broker.Subscribe(ctx, []string{notify.SubjectPaymentReceived, notify.SubjectTransferSubmitted})
	if err != nil {
		return err
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		for msg := range ch {
			logger.Debug(ctx, "event published", zap.String("subject", msg.Subject), zap.ByteString("payload", msg.Payload))
		}
	})
	return nil
}

// Close releases everything New opened. It is safe on a partly built App.
func (a *App) Close() {
	if a.monitor != nil {
		a.monitor.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.traceShutdown(ctx)
	}
	logger.Sync()
}
