package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxKey signs transactions for a single account.
type TxKey interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// PrivateKey is a TxKey backed by an in-memory ECDSA key.
type PrivateKey struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKey parses a hex-encoded private key (with or without "0x" prefix).
func NewPrivateKey(privateKeyHex string) (*PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &PrivateKey{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

func (k *PrivateKey) Address() common.Address {
	return k.address
}

func (k *PrivateKey) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.privateKey)
}

// KeystoreKey is a TxKey backed by an unlocked account of an encrypted keystore.
type KeystoreKey struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

// NewKeystoreKey unlocks account in ks with passphrase.
func NewKeystoreKey(ks *keystore.KeyStore, account accounts.Account, passphrase string) (*KeystoreKey, error) {
	if err := ks.Unlock(account, passphrase); err != nil {
		return nil, fmt.Errorf("failed to unlock %s: %w", account.Address.Hex(), err)
	}
	return &KeystoreKey{ks: ks, account: account}, nil
}

func (k *KeystoreKey) Address() common.Address {
	return k.account.Address
}

func (k *KeystoreKey) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return k.ks.SignTx(k.account, tx, chainID)
}

// FindAccount returns the keystore account matching address, or the first account when
// address is empty.
func FindAccount(ks *keystore.KeyStore, address string) (accounts.Account, error) {
	all := ks.Accounts()
	if len(all) == 0 {
		return accounts.Account{}, fmt.Errorf("keystore has no accounts")
	}
	if address == "" {
		return all[0], nil
	}
	if !common.IsHexAddress(address) {
		return accounts.Account{}, fmt.Errorf("invalid account address: %s", address)
	}
	want := common.HexToAddress(address)
	for _, account := range all {
		if account.Address == want {
			return account, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("account %s not found in keystore", address)
}
