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

// Library is a binding to a deployed Library contract.
type Library struct {
	backend Backend
	address string
}

var _ bookledger.Library = (*Library)(nil)

// NewLibrary binds the Library contract at address.
func NewLibrary(backend Backend, address string) *Library {
	return &Library{backend: backend, address: evm.NormalizeAddress(address)}
}

func (l *Library) Address() string {
	return l.address
}

func (l *Library) read(ctx context.Context, fn string, args ...interface{}) ([]interface{}, error) {
	return l.backend.ReadContract(ctx, l.address, evm.LibraryABI, fn, args...)
}

func (l *Library) BooksLength(ctx context.Context) (uint64, error) {
	out, err := l.read(ctx, evm.FunctionGetBooksLength)
	if err != nil {
		return 0, err
	}
	v, err := single(out, evm.FunctionGetBooksLength)
	if err != nil {
		return 0, err
	}
	return asUint64(v, evm.FunctionGetBooksLength)
}

func (l *Library) BookIDAt(ctx context.Context, index uint64) (bookledger.BookID, error) {
	out, err := l.read(ctx, evm.FunctionBooksID, new(big.Int).SetUint64(index))
	if err != nil {
		return "", err
	}
	v, err := single(out, evm.FunctionBooksID)
	if err != nil {
		return "", err
	}
	raw, ok := v.([32]byte)
	if !ok {
		return "", fmt.Errorf("%s returned %T, expected bytes32", evm.FunctionBooksID, v)
	}
	return bookledger.BookIDFromBytes32(raw), nil
}

func (l *Library) Book(ctx context.Context, id bookledger.BookID) (string, uint64, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return "", 0, err
	}
	out, err := l.read(ctx, evm.FunctionBooksInLibrary, raw)
	if err != nil {
		return "", 0, err
	}
	if len(out) != 2 {
		return "", 0, fmt.Errorf("%s returned %d values, expected 2", evm.FunctionBooksInLibrary, len(out))
	}
	name, ok := out[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("%s returned %T, expected string", evm.FunctionBooksInLibrary, out[0])
	}
	copies, err := asUint64(out[1], evm.FunctionBooksInLibrary)
	if err != nil {
		return "", 0, err
	}
	return name, copies, nil
}

func (l *Library) IsBorrowedBy(ctx context.Context, account string, id bookledger.BookID) (bool, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return false, err
	}
	out, err := l.read(ctx, evm.FunctionBorrowedBooksByUser, common.HexToAddress(account), raw)
	if err != nil {
		return false, err
	}
	v, err := single(out, evm.FunctionBorrowedBooksByUser)
	if err != nil {
		return false, err
	}
	borrowed, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T, expected bool", evm.FunctionBorrowedBooksByUser, v)
	}
	return borrowed, nil
}

func (l *Library) Owner(ctx context.Context) (string, error) {
	out, err := l.read(ctx, evm.FunctionOwner)
	if err != nil {
		return "", err
	}
	v, err := single(out, evm.FunctionOwner)
	if err != nil {
		return "", err
	}
	owner, ok := v.(common.Address)
	if !ok {
		return "", fmt.Errorf("%s returned %T, expected address", evm.FunctionOwner, v)
	}
	return owner.Hex(), nil
}

func (l *Library) AddBook(ctx context.Context, name string, copies uint64) (bookledger.TransactionHandle, error) {
	return send(ctx, l.backend, l.address, evm.LibraryABI, evm.FunctionAddBook, name, new(big.Int).SetUint64(copies))
}

func (l *Library) BorrowBook(ctx context.Context, id bookledger.BookID) (bookledger.TransactionHandle, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	return send(ctx, l.backend, l.address, evm.LibraryABI, evm.FunctionBorrowBook, raw)
}

func (l *Library) ReturnBook(ctx context.Context, id bookledger.BookID) (bookledger.TransactionHandle, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	return send(ctx, l.backend, l.address, evm.LibraryABI, evm.FunctionReturnBook, raw)
}

func (l *Library) Withdraw(ctx context.Context, amount *big.Int) (bookledger.TransactionHandle, error) {
	return send(ctx, l.backend, l.address, evm.LibraryABI, evm.FunctionWithdraw, amount)
}

// WatchBookEvents streams BookAdded, BookBorrowed and BookReturned logs into sink.
func (l *Library) WatchBookEvents(ctx context.Context, sink func(bookledger.LedgerEvent)) (bookledger.Subscription, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(l.address)},
		Topics: [][]common.Hash{{
			libraryABI.Events[evm.EventBookAdded].ID,
			libraryABI.Events[evm.EventBookBorrowed].ID,
			libraryABI.Events[evm.EventBookReturned].ID,
		}},
	}
	return watchLogs(ctx, l.backend, q, func(log types.Log) (bookledger.LedgerEvent, bool) {
		ev, err := DecodeBookEvent(log)
		if err != nil {
			return bookledger.LedgerEvent{}, false
		}
		return ev, true
	}, sink)
}

// DecodeBookEvent decodes a Library event log.
func DecodeBookEvent(log types.Log) (bookledger.LedgerEvent, error) {
	if len(log.Topics) == 0 {
		return bookledger.LedgerEvent{}, fmt.Errorf("log has no topics")
	}
	event, err := libraryABI.EventByID(log.Topics[0])
	if err != nil {
		return bookledger.LedgerEvent{}, err
	}

	fields := make(map[string]interface{})
	if err := libraryABI.UnpackIntoMap(fields, event.Name, log.Data); err != nil {
		return bookledger.LedgerEvent{}, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
	}

	ev := bookledger.LedgerEvent{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
	}
	if raw, ok := fields["bookId"].([32]byte); ok {
		ev.BookID = bookledger.BookIDFromBytes32(raw)
	}
	switch event.Name {
	case evm.EventBookAdded:
		ev.Kind = bookledger.EventBookAdded
		ev.Name, _ = fields["name"].(string)
		if copies, ok := fields["copies"].(*big.Int); ok && copies.IsUint64() {
			ev.Copies = copies.Uint64()
		}
	case evm.EventBookBorrowed, evm.EventBookReturned:
		ev.Kind = bookledger.EventBookBorrowed
		if event.Name == evm.EventBookReturned {
			ev.Kind = bookledger.EventBookReturned
		}
		if borrower, ok := fields["borrower"].(common.Address); ok {
			ev.Account = borrower.Hex()
		}
	default:
		return bookledger.LedgerEvent{}, fmt.Errorf("unexpected event %s", event.Name)
	}
	return ev, nil
}
