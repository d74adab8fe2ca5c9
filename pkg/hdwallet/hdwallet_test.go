package hdwallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devMnemonic = "test test test test test test test test test test test junk"

func TestDerive_KnownAccounts(t *testing.T) {
	w, err := New(devMnemonic, "")
	require.NoError(t, err)

	tests := []struct {
		index uint32
		want  string
	}{
		{index: 0, want: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		{index: 1, want: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
	}
	for _, tt := range tests {
		key, err := w.Derive(tt.index)
		require.NoError(t, err)
		assert.Equal(t, tt.want, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a, err := New(devMnemonic, "")
	require.NoError(t, err)
	b, err := New(devMnemonic, "")
	require.NoError(t, err)

	ka, err := a.Derive(7)
	require.NoError(t, err)
	kb, err := b.Derive(7)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(ka), crypto.FromECDSA(kb))

	withPass, err := New(devMnemonic, "extra")
	require.NoError(t, err)
	kp, err := withPass.Derive(7)
	require.NoError(t, err)
	assert.NotEqual(t, crypto.FromECDSA(ka), crypto.FromECDSA(kp))
}

func TestNew_RejectsInvalidMnemonic(t *testing.T) {
	for _, m := range []string{"", "test test test", "test test test test test test test test test test test zzzz"} {
		_, err := New(m, "")
		assert.ErrorIs(t, err, ErrInvalidMnemonic, m)
	}
}
