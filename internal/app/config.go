package app

import (
	"errors"
	"time"

	"paylink.io/internal/api"
	"paylink.io/internal/chain/evm"
	"paylink.io/internal/token"
	"paylink.io/internal/transfer"
	"paylink.io/pkg/orm"
	"paylink.io/pkg/trace"
	"paylink.io/pkg/xredis"
)

type Config struct {
	Name     string     `mapstructure:"name"`
	LogLevel string     `mapstructure:"log_level"`
	LogFile  string     `mapstructure:"log_file"`
	HTTP     api.Config `mapstructure:"http"`

	Chain    ChainConfig       `mapstructure:"chain"`
	Balance  BalanceConfig     `mapstructure:"balance"`
	Transfer transfer.Config   `mapstructure:"transfer"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Watcher  evm.WatcherConfig `mapstructure:"watcher"`

	DB    orm.Config   `mapstructure:"db"`
	Redis RedisConfig  `mapstructure:"redis"`
	Nats  NatsConfig   `mapstructure:"nats"`
	Trace trace.Config `mapstructure:"trace"`
}

type ChainConfig struct {
	evm.Config `mapstructure:",squash"`

	Token TokenConfig `mapstructure:"token"`
	// Native is the chain's gas coin, tracked alongside Token.
	Native TokenConfig `mapstructure:"native"`
	// CheckBalance rejects a send the cached balance cannot cover.
	CheckBalance bool `mapstructure:"check_balance"`
	// LegacyPayloads accepts the older business payment request format.
	LegacyPayloads bool `mapstructure:"legacy_payloads"`
}

type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

func (t TokenConfig) Meta() token.Meta {
	return token.Meta{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals}
}

type BalanceConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// MirrorTTL bounds how long balances survive in redis for a cold start.
	MirrorTTL time.Duration `mapstructure:"mirror_ttl"`
}

type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	QueryLimit   int           `mapstructure:"query_limit"`
}

type RedisConfig struct {
	xredis.Config `mapstructure:",squash"`
	Enabled       bool `mapstructure:"enabled"`
}

type NatsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "paylink"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.HTTP.ApplyDefaults()
	c.Chain.ApplyDefaults()
	if c.Chain.Token.Symbol == "" {
		c.Chain.Token = TokenConfig{Symbol: "USDC", Decimals: 6}
	}
	if c.Chain.Native.Symbol == "" {
		c.Chain.Native = TokenConfig{Symbol: "SEI", Decimals: 18}
	}
	if c.Balance.TTL <= 0 {
		c.Balance.TTL = time.Minute
	}
	if c.Balance.FetchTimeout <= 0 {
		c.Balance.FetchTimeout = 15 * time.Second
	}
	if c.Balance.MirrorTTL <= 0 {
		c.Balance.MirrorTTL = 24 * time.Hour
	}
	c.Transfer.ApplyDefaults()
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 3 * time.Second
	}
	if c.Monitor.MaxDuration <= 0 {
		c.Monitor.MaxDuration = 5 * time.Minute
	}
	if c.Monitor.QueryLimit <= 0 {
		c.Monitor.QueryLimit = 20
	}
	c.Watcher.ApplyDefaults()
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.DSN == "" && c.DB.Driver == "sqlite" {
		c.DB.DSN = "file:paylink.db?_busy_timeout=5000"
	}
	// the HTTP write deadline must outlive a submission
	if floor := c.Transfer.Timeout + 5*time.Second; c.HTTP.WriteTimeout < floor {
		c.HTTP.WriteTimeout = floor
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RpcURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.SignerKey == "" && c.Chain.SignerMnemonic == "" {
		errs = append(errs, errors.New("chain.signer_key or chain.signer_mnemonic is required"))
	}
	if c.Chain.Token.Contract == "" {
		errs = append(errs, errors.New("chain.token.contract is required"))
	}
	if c.Nats.Enabled && c.Nats.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	return errors.Join(errs...)
}
