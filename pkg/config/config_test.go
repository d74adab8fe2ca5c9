package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCfg struct {
	Name  string `mapstructure:"name"`
	Chain struct {
		RpcURL  string `mapstructure:"rpc_url"`
		ChainID int64  `mapstructure:"chain_id"`
	} `mapstructure:"chain"`
	Monitor struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"monitor"`
}

const yamlBody = `
name: paylink
chain:
  rpc_url: http://localhost:8545
  chain_id: 1328
monitor:
  poll_interval: 3s
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paylink.yaml"), []byte(yamlBody), 0o644))
	return dir
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := writeConfig(t)

	var cfg testCfg
	v, err := Load("paylink", &cfg, dir)
	require.NoError(t, err)

	assert.Equal(t, "paylink", cfg.Name)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RpcURL)
	assert.Equal(t, int64(1328), cfg.Chain.ChainID)
	assert.Equal(t, 3*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, filepath.Join(dir, "paylink.yaml"), v.ConfigFileUsed())
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := writeConfig(t)
	t.Setenv("PAYLINK_CHAIN_RPC_URL", "https://evm-rpc-testnet.sei-apis.com")

	var cfg testCfg
	_, err := Load("paylink", &cfg, dir)
	require.NoError(t, err)

	assert.Equal(t, "https://evm-rpc-testnet.sei-apis.com", cfg.Chain.RpcURL)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg testCfg
	_, err := Load("paylink", &cfg, t.TempDir())
	assert.Error(t, err)
}
