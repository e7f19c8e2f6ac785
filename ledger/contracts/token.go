package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/evm"
)

// Token is a binding to an ERC-20 token.
type Token struct {
	backend Backend
	address string
}

var _ bookledger.Token = (*Token)(nil)

// NewToken binds the ERC-20 token at address.
func NewToken(backend Backend, address string) *Token {
	return &Token{backend: backend, address: evm.NormalizeAddress(address)}
}

func (t *Token) Address() string {
	return t.address
}

func (t *Token) readAmount(ctx context.Context, fn string, args ...interface{}) (*big.Int, error) {
	out, err := t.backend.ReadContract(ctx, t.address, evm.ERC20ABI, fn, args...)
	if err != nil {
		return nil, err
	}
	v, err := single(out, fn)
	if err != nil {
		return nil, err
	}
	return asBigInt(v, fn)
}

func (t *Token) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	return t.readAmount(ctx, evm.FunctionBalanceOf, common.HexToAddress(account))
}

func (t *Token) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return t.readAmount(ctx, evm.FunctionAllowance, common.HexToAddress(owner), common.HexToAddress(spender))
}

func (t *Token) Approve(ctx context.Context, spender string, amount *big.Int) (bookledger.TransactionHandle, error) {
	return send(ctx, t.backend, t.address, evm.ERC20ABI, evm.FunctionApprove, common.HexToAddress(spender), amount)
}

// WatchTransfersTo streams Transfer logs whose recipient is to.
func (t *Token) WatchTransfersTo(ctx context.Context, to string, sink func(bookledger.LedgerEvent)) (bookledger.Subscription, error) {
	recipient := common.HexToAddress(to)
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(t.address)},
		Topics: [][]common.Hash{
			{erc20ABI.Events[evm.EventTransfer].ID},
			nil,
			{common.BytesToHash(recipient.Bytes())},
		},
	}
	return watchLogs(ctx, t.backend, q, func(log types.Log) (bookledger.LedgerEvent, bool) {
		ev, err := DecodeTransfer(log)
		if err != nil {
			return bookledger.LedgerEvent{}, false
		}
		return ev, true
	}, sink)
}

// DecodeTransfer decodes an ERC-20 Transfer log. Account is the sender.
func DecodeTransfer(log types.Log) (bookledger.LedgerEvent, error) {
	transfer := erc20ABI.Events[evm.EventTransfer]
	if len(log.Topics) != 3 || log.Topics[0] != transfer.ID {
		return bookledger.LedgerEvent{}, fmt.Errorf("not a Transfer log")
	}
	fields := make(map[string]interface{})
	if err := erc20ABI.UnpackIntoMap(fields, evm.EventTransfer, log.Data); err != nil {
		return bookledger.LedgerEvent{}, fmt.Errorf("failed to unpack Transfer: %w", err)
	}
	value, ok := fields["value"].(*big.Int)
	if !ok {
		return bookledger.LedgerEvent{}, fmt.Errorf("transfer log has no value")
	}
	return bookledger.LedgerEvent{
		Kind:        bookledger.EventTokenTransfer,
		Account:     common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		Amount:      value,
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
	}, nil
}
