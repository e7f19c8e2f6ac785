// Package evm adapts a go-ethereum RPC client and a transaction key into the
// read/write/wait/subscribe surface the ledger bindings are written against.
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
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ledgerevm "github.com/bookledger/bookledger/ledger/evm"
)

// ErrReadOnly is returned by WriteContract when the signer has no key.
var ErrReadOnly = errors.New("signer has no transaction key")

// ChainBackend is the subset of *ethclient.Client used by Signer.
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Signer reads and writes contracts through a ChainBackend, signing writes with a TxKey.
type Signer struct {
	backend        ChainBackend
	key            TxKey
	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	abis    map[string]*abi.ABI
	chainID *big.Int
}

// Option configures a Signer
type Option func(*Signer)

// WithReceiptTimeout bounds WaitForTransactionReceipt.
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.receiptTimeout = d
		}
	}
}

// WithPollInterval sets the delay between receipt lookups.
func WithPollInterval(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSigner creates a signer. key may be nil for a read-only signer.
func NewSigner(backend ChainBackend, key TxKey, opts ...Option) *Signer {
	s := &Signer{
		backend:        backend,
		key:            key,
		receiptTimeout: ledgerevm.DefaultReceiptTimeout,
		pollInterval:   ledgerevm.DefaultReceiptPollInterval,
		abis:           make(map[string]*abi.ABI),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the checksummed address of the key, or "" for read-only signers.
func (s *Signer) Address() string {
	if s.key == nil {
		return ""
	}
	return s.key.Address().Hex()
}

// Key returns the transaction key, which may be nil.
func (s *Signer) Key() TxKey {
	return s.key
}

// GetChainID returns the chain id of the connected network.
// The first successful answer is cached; use RefreshChainID to re-read it.
func (s *Signer) GetChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	cached := s.chainID
	s.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	return s.RefreshChainID(ctx)
}

// RefreshChainID re-reads the chain id from the backend.
func (s *Signer) RefreshChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	s.mu.Lock()
	s.chainID = new(big.Int).Set(chainID)
	s.mu.Unlock()
	return chainID, nil
}

func (s *Signer) parseABI(abiBytes []byte) (*abi.ABI, error) {
	key := string(abiBytes)
	s.mu.Lock()
	defer s.mu.Unlock()
	if parsed, ok := s.abis[key]; ok {
		return parsed, nil
	}
	parsed, err := abi.JSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	s.abis[key] = &parsed
	return &parsed, nil
}

// ReadContract calls a view function and returns its unpacked outputs in order.
func (s *Signer) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) ([]interface{}, error) {
	contractABI, err := s.parseABI(abiBytes)
	if err != nil {
		return nil, err
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}
	if s.key != nil {
		msg.From = s.key.Address()
	}

	result, err := s.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call %s failed: %w", functionName, err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}
	return outputs, nil
}

// WriteContract signs and sends a transaction calling functionName and returns its hash.
func (s *Signer) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	if s.key == nil {
		return "", ErrReadOnly
	}

	contractABI, err := s.parseABI(abiBytes)
	if err != nil {
		return "", err
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	chainID, err := s.GetChainID(ctx)
	if err != nil {
		return "", err
	}

	from := s.key.Address()
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil || gasLimit == 0 {
		gasLimit = ledgerevm.DefaultGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := s.key.SignTx(tx, chainID)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined, the context is done,
// or the receipt timeout elapses.
func (s *Signer) WaitForTransactionReceipt(ctx context.Context, txHash string) (*ledgerevm.TransactionReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			out := &ledgerevm.TransactionReceipt{
				Status:  receipt.Status,
				TxHash:  receipt.TxHash.Hex(),
				GasUsed: receipt.GasUsed,
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction receipt for %s not found: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SubscribeLogs streams logs matching q into ch.
func (s *Signer) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	sub, err := s.backend.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	return sub, nil
}
