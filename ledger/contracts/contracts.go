// Package contracts binds the Library contract and its ERC-20 payment token
// to a signing backend, implementing the bookledger ledger interfaces.
package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/evm"
)

// Backend reads, writes and watches contracts. *signers/evm.Signer satisfies it.
type Backend interface {
	Address() string
	ReadContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) ([]interface{}, error)
	WriteContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error)
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// SignerSource is implemented by providers that expose their signing backend.
type SignerSource interface {
	TxSigner() Backend
}

var (
	libraryABI = mustParseABI(evm.LibraryABI)
	erc20ABI   = mustParseABI(evm.ERC20ABI)
)

func mustParseABI(raw []byte) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

// ============================================================================
// Binder
// ============================================================================

// Binder binds contracts to providers implementing SignerSource.
type Binder struct{}

// NewBinder creates a Binder.
func NewBinder() *Binder {
	return &Binder{}
}

var _ bookledger.Binder = (*Binder)(nil)

func (b *Binder) backend(p bookledger.Provider, address string) (Backend, error) {
	if !evm.IsValidAddress(address) {
		return nil, fmt.Errorf("invalid contract address: %s", address)
	}
	src, ok := p.(SignerSource)
	if !ok {
		return nil, fmt.Errorf("provider %T cannot sign transactions", p)
	}
	return src.TxSigner(), nil
}

func (b *Binder) BindLibrary(p bookledger.Provider, address string) (bookledger.Library, error) {
	backend, err := b.backend(p, address)
	if err != nil {
		return nil, err
	}
	return NewLibrary(backend, address), nil
}

func (b *Binder) BindToken(p bookledger.Provider, address string) (bookledger.Token, error) {
	backend, err := b.backend(p, address)
	if err != nil {
		return nil, err
	}
	return NewToken(backend, address), nil
}

// ============================================================================
// Transactions
// ============================================================================

// Transaction is a submitted write.
type Transaction struct {
	hash    string
	backend Backend
}

func (t *Transaction) Hash() string {
	return t.hash
}

// Wait polls the backend until the receipt is available.
func (t *Transaction) Wait(ctx context.Context) (*bookledger.Receipt, error) {
	return t.backend.WaitForTransactionReceipt(ctx, t.hash)
}

func send(ctx context.Context, backend Backend, address string, abiBytes []byte, fn string, args ...interface{}) (bookledger.TransactionHandle, error) {
	hash, err := backend.WriteContract(ctx, address, abiBytes, fn, args...)
	if err != nil {
		return nil, err
	}
	return &Transaction{hash: hash, backend: backend}, nil
}

// ============================================================================
// Output decoding
// ============================================================================

func single(out []interface{}, fn string) (interface{}, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", fn)
	}
	return out[0], nil
}

func asBigInt(v interface{}, fn string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, fmt.Errorf("%s returned %T, expected uint256", fn, v)
	}
	return n, nil
}

func asUint64(v interface{}, fn string) (uint64, error) {
	n, err := asBigInt(v, fn)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s returned %s, which overflows uint64", fn, n)
	}
	return n.Uint64(), nil
}
