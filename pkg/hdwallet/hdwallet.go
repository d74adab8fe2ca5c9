// Package hdwallet derives EVM account keys from a BIP-39 mnemonic along
// the BIP-44 path m/44'/60'/0'/0/index.
package hdwallet

import (
	"crypto/ecdsa"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

const coinTypeEth = 60

var ErrInvalidMnemonic = errors.New("hdwallet: invalid mnemonic")

type Wallet struct {
	master *hdkeychain.ExtendedKey
}

func New(mnemonic, passphrase string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	// the network only affects serialization of the extended key
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return &Wallet{master: master}, nil
}

// Derive returns the private key of account index.
func (w *Wallet) Derive(index uint32) (*ecdsa.PrivateKey, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,
		coinTypeEth + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart,
		0,
		index,
	}

	key := w.master
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}
