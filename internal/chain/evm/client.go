package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"paylink.io/internal/balance"
	"paylink.io/internal/transfer"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/ratelimit"
	"paylink.io/pkg/xerr"
)

var (
	ErrNoSigner       = errors.New("evm: client has no signer")
	ErrInvalidAddress = errors.New("evm: invalid address")
)

type Config struct {
	RpcURL  string `mapstructure:"rpc_url"`
	ChainID int64  `mapstructure:"chain_id"`
	// SignerKey is a hex private key. Without it the signer is derived from
	// SignerMnemonic at SignerIndex.
	SignerKey        string `mapstructure:"signer_key"`
	SignerMnemonic   string `mapstructure:"signer_mnemonic"`
	SignerPassphrase string `mapstructure:"signer_passphrase"`
	SignerIndex      uint32 `mapstructure:"signer_index"`

	// RPC budget shared by every call of this client
	RPCRate  float64 `mapstructure:"rpc_rate"`
	RPCBurst int     `mapstructure:"rpc_burst"`

	// rate-limited (429) calls are retried with exponential backoff
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.RPCRate <= 0 {
		c.RPCRate = 20
	}
	if c.RPCBurst <= 0 {
		c.RPCBurst = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 10 * time.Second
	}
}

// Client implements balance.Reader and transfer.Submitter.
type Client struct {
	backend  Backend
	signer   Signer
	chainID  *big.Int
	cfg      Config
	limiter  *ratelimit.Store
	breakers *ratelimit.Manager

	// one nonce at a time per signer
	nonceMu sync.Mutex
}

var (
	_ transfer.Submitter = (*Client)(nil)
	_ balance.Reader     = (*Client)(nil)
)

// Dial connects to cfg.RpcURL. signer may be nil for a read-only client.
func Dial(ctx context.Context, cfg Config, signer Signer) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ChainUnavailable, "")
	}
	return New(ctx, ec, cfg, signer)
}

func New(ctx context.Context, b Backend, cfg Config, signer Signer) (*Client, error) {
	cfg.ApplyDefaults()
	c := &Client{
		backend: b,
		signer:  signer,
		cfg:     cfg,
		limiter: ratelimit.NewStore(rate.Limit(cfg.RPCRate), cfg.RPCBurst, 0),
		breakers: ratelimit.NewManager(ratelimit.Rule{
			TripConsecutiveFailures: cfg.BreakerFailures,
			Timeout:                 cfg.BreakerTimeout,
		}, nil).WithBenign(isCallerError),
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
		return c, nil
	}
	err := c.call(ctx, "eth_chainId", func(ctx context.Context) error {
		id, err := b.ChainID(ctx)
		c.chainID = id
		return err
	})
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ChainUnavailable, "")
	}
	return c, nil
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Address is the signer's account, empty for read-only clients.
func (c *Client) Address() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address().Hex()
}

// Health checks that the node answers.
func (c *Client) Health(ctx context.Context) error {
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		_, err := c.backend.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return xerr.Wrap(err, xerr.ChainUnavailable, "")
	}
	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		n, err = c.backend.BlockNumber(ctx)
		return err
	})
	return n, err
}

// ReadBalance returns the native balance when tokenContract is empty and
// the ERC-20 balanceOf otherwise.
func (c *Client) ReadBalance(ctx context.Context, address, tokenContract string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	account := common.HexToAddress(address)

	if tokenContract == "" {
		var bal *big.Int
		err := c.call(ctx, "eth_getBalance", func(ctx context.Context) (err error) {
			bal, err = c.backend.BalanceAt(ctx, account, nil)
			return err
		})
		return bal, err
	}

	data, err := erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(tokenContract)
	var out []byte
	err = c.call(ctx, "eth_call", func(ctx context.Context) (err error) {
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	vals, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode balanceOf: unexpected %T", vals[0])
	}
	return bal, nil
}

func (c *Client) EstimateGas(ctx context.Context, call transfer.Call) (uint64, error) {
	msg, err := c.callMsg(call)
	if err != nil {
		return 0, err
	}
	var gas uint64
	err = c.call(ctx, "eth_estimateGas", func(ctx context.Context) (err error) {
		gas, err = c.backend.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SubmitTransfer signs and broadcasts an EIP-1559 transaction. The fee cap
// is 2*baseFee + tip so the tx survives a base fee spike.
func (c *Client) SubmitTransfer(ctx context.Context, call transfer.Call) (string, error) {
	if c.signer == nil {
		return "", ErrNoSigner
	}
	msg, err := c.callMsg(call)
	if err != nil {
		return "", err
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	var nonce uint64
	if err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context) (err error) {
		nonce, err = c.backend.PendingNonceAt(ctx, msg.From)
		return err
	}); err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	var tip *big.Int
	if err := c.call(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) (err error) {
		tip, err = c.backend.SuggestGasTipCap(ctx)
		return err
	}); err != nil {
		return "", fmt.Errorf("get gas tip: %w", err)
	}

	var head *types.Header
	if err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (err error) {
		head, err = c.backend.HeaderByNumber(ctx, nil)
		return err
	}); err != nil {
		return "", fmt.Errorf("get header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       call.GasLimit,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	})
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	if err := c.call(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		return c.backend.SendTransaction(ctx, signed)
	}); err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	logger.Info(ctx, "transaction broadcast",
		zap.Uint64("nonce", nonce), zap.Uint64("gas", call.GasLimit),
		zap.String("tx_hash", signed.Hash().Hex()))
	return signed.Hash().Hex(), nil
}

// callMsg turns a transfer into the message the node sees: a value
// transfer for the native coin, a transfer() call for ERC-20 tokens.
func (c *Client) callMsg(call transfer.Call) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(call.To) {
		return ethereum.CallMsg{}, fmt.Errorf("%w: recipient %q", ErrInvalidAddress, call.To)
	}
	to := common.HexToAddress(call.To)

	msg := ethereum.CallMsg{Gas: call.GasLimit}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	if call.Token.IsNative() {
		msg.To = &to
		msg.Value = call.Amount
		return msg, nil
	}

	if !common.IsHexAddress(call.Token.Contract) {
		return ethereum.CallMsg{}, fmt.Errorf("%w: token contract %q", ErrInvalidAddress, call.Token.Contract)
	}
	data, err := erc20.Pack("transfer", to, call.Amount)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack transfer: %w", err)
	}
	contract := common.HexToAddress(call.Token.Contract)
	msg.To = &contract
	msg.Value = new(big.Int)
	msg.Data = data
	return msg, nil
}

// call runs fn under the RPC budget and the method's breaker, retrying
// rate-limited responses with exponential backoff.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; ; i++ {
		if err = c.limiter.Wait(ctx, "rpc"); err != nil {
			return err
		}

		start := time.Now()
		err = c.breakers.Do(method, func() error { return fn(ctx) })
		metrics.ChainRPCDuration.WithLabelValues(method, rpcStatus(err)).Observe(time.Since(start).Seconds())

		if err == nil || !isRateLimited(err) || i >= c.cfg.MaxRetries {
			return err
		}

		delay := c.cfg.RetryBaseDelay << i
		logger.Warn(ctx, "rpc rate limited, backing off",
			zap.String("method", method), zap.Int("retry", i+1), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func rpcStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case ratelimit.IsRejected(err):
		return "rejected"
	case isRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// isCallerError marks errors caused by the request, not by the node.
func isCallerError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "nonce too low")
}

// NewSigner builds the signer cfg describes.
func NewSigner(cfg Config) (Signer, error) {
	if cfg.SignerKey != "" {
		return NewKeySigner(cfg.SignerKey)
	}
	if cfg.SignerMnemonic != "" {
		return NewMnemonicSigner(cfg.SignerMnemonic, cfg.SignerPassphrase, cfg.SignerIndex)
	}
	return nil, errors.New("evm: no signer key or mnemonic configured")
}
