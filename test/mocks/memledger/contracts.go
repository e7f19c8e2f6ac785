package memledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	bookledger "github.com/bookledger/bookledger"
)

// ============================================================================
// Library contract
// ============================================================================

// Library is a binding to the in-memory Library contract.
type Library struct {
	ledger   *Ledger
	provider bookledger.Provider
}

var _ bookledger.Library = (*Library)(nil)

func (c *Library) Address() string {
	return LibraryAddress
}

func (c *Library) BooksLength(ctx context.Context) (uint64, error) {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return 0, err
	}
	return uint64(len(l.books)), nil
}

func (c *Library) BookIDAt(ctx context.Context, index uint64) (bookledger.BookID, error) {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return "", err
	}
	if index >= uint64(len(l.books)) {
		return "", fmt.Errorf("execution reverted: index %d out of range", index)
	}
	return bookledger.BookIDFromBytes32(l.books[index].id), nil
}

// Book returns the zero record for unknown ids, as a contract mapping does.
func (c *Library) Book(ctx context.Context, id bookledger.BookID) (string, uint64, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return "", 0, err
	}
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return "", 0, err
	}
	b := l.findLocked(raw)
	if b == nil {
		return "", 0, nil
	}
	return b.name, b.copies, nil
}

func (c *Library) IsBorrowedBy(ctx context.Context, account string, id bookledger.BookID) (bool, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return false, err
	}
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return false, err
	}
	return l.borrowed[key(account)][raw], nil
}

func (c *Library) Owner(ctx context.Context) (string, error) {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return "", err
	}
	return addressOf(l.owner), nil
}

// AddBook reverts unless sent by the owner with a new, non-empty name.
func (c *Library) AddBook(ctx context.Context, name string, copies uint64) (bookledger.TransactionHandle, error) {
	from, err := sender(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	l := c.ledger
	return l.submit(bookledger.ActionAddBook, func() (bool, []emitted) {
		id := crypto.Keccak256Hash([]byte(name))
		if from != l.owner || strings.TrimSpace(name) == "" || copies == 0 || l.findLocked(id) != nil {
			return false, nil
		}
		l.books = append(l.books, &book{id: id, name: name, copies: copies})
		return true, []emitted{{LedgerEvent: bookledger.LedgerEvent{
			Kind:   bookledger.EventBookAdded,
			BookID: bookledger.BookIDFromBytes32(id),
			Name:   name,
			Copies: copies,
		}}}
	})
}

// BorrowBook reverts when the book has no copies, is already held by the
// sender, or the rent price cannot be pulled from the sender.
func (c *Library) BorrowBook(ctx context.Context, id bookledger.BookID) (bookledger.TransactionHandle, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	from, err := sender(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	l := c.ledger
	return l.submit(bookledger.ActionBorrow, func() (bool, []emitted) {
		b := l.findLocked(raw)
		if b == nil || b.copies == 0 || l.borrowed[from][raw] {
			return false, nil
		}
		events := []emitted{{LedgerEvent: bookledger.LedgerEvent{
			Kind:    bookledger.EventBookBorrowed,
			BookID:  id,
			Name:    b.name,
			Account: addressOf(from),
		}}}
		if l.rentPrice != nil && l.rentPrice.Sign() > 0 {
			allowed := l.allowanceLocked(from, l.libraryAddress)
			if allowed.Cmp(l.rentPrice) < 0 || !l.transferLocked(from, l.libraryAddress, l.rentPrice) {
				return false, nil
			}
			l.setAllowanceLocked(from, l.libraryAddress, new(big.Int).Sub(allowed, l.rentPrice))
			events = append(events, emitted{
				LedgerEvent: bookledger.LedgerEvent{
					Kind:    bookledger.EventTokenTransfer,
					Account: addressOf(from),
					Amount:  new(big.Int).Set(l.rentPrice),
				},
				to: l.libraryAddress,
			})
		}
		l.setBorrowedLocked(from, raw, true)
		return true, events
	})
}

// ReturnBook reverts unless the sender holds the book.
func (c *Library) ReturnBook(ctx context.Context, id bookledger.BookID) (bookledger.TransactionHandle, error) {
	raw, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	from, err := sender(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	l := c.ledger
	return l.submit(bookledger.ActionReturn, func() (bool, []emitted) {
		if !l.borrowed[from][raw] {
			return false, nil
		}
		l.setBorrowedLocked(from, raw, false)
		name := ""
		if b := l.findLocked(raw); b != nil {
			name = b.name
		}
		return true, []emitted{{LedgerEvent: bookledger.LedgerEvent{
			Kind:    bookledger.EventBookReturned,
			BookID:  id,
			Name:    name,
			Account: addressOf(from),
		}}}
	})
}

// Withdraw reverts unless sent by the owner and covered by the library balance.
func (c *Library) Withdraw(ctx context.Context, amount *big.Int) (bookledger.TransactionHandle, error) {
	from, err := sender(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	l := c.ledger
	amount = new(big.Int).Set(amount)
	return l.submit(bookledger.ActionWithdraw, func() (bool, []emitted) {
		if from != l.owner || !l.transferLocked(l.libraryAddress, l.owner, amount) {
			return false, nil
		}
		return true, []emitted{{
			LedgerEvent: bookledger.LedgerEvent{
				Kind:    bookledger.EventTokenTransfer,
				Account: addressOf(l.libraryAddress),
				Amount:  amount,
			},
			to: l.owner,
		}}
	})
}

func (c *Library) WatchBookEvents(ctx context.Context, fn func(bookledger.LedgerEvent)) (bookledger.Subscription, error) {
	return c.ledger.watch(c.ledger.bookSinks, sink{fn: fn}), nil
}

// ============================================================================
// Token contract
// ============================================================================

// Token is a binding to the in-memory ERC-20 token.
type Token struct {
	ledger   *Ledger
	provider bookledger.Provider
}

var _ bookledger.Token = (*Token)(nil)

func (c *Token) Address() string {
	return TokenAddress
}

func (c *Token) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.balanceLocked(key(account))), nil
}

func (c *Token) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readLocked(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.allowanceLocked(key(owner), key(spender))), nil
}

func (c *Token) Approve(ctx context.Context, spender string, amount *big.Int) (bookledger.TransactionHandle, error) {
	from, err := sender(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	l := c.ledger
	to := key(spender)
	amount = new(big.Int).Set(amount)
	return l.submit(bookledger.ActionApprove, func() (bool, []emitted) {
		l.setAllowanceLocked(from, to, amount)
		return true, nil
	})
}

func (c *Token) WatchTransfersTo(ctx context.Context, to string, fn func(bookledger.LedgerEvent)) (bookledger.Subscription, error) {
	return c.ledger.watch(c.ledger.transferSinks, sink{fn: fn, to: key(to)}), nil
}

func (l *Ledger) setAllowanceLocked(owner, spender string, amount *big.Int) {
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]*big.Int)
	}
	l.allowances[owner][spender] = amount
}
