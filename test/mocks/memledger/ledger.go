// Package memledger is an in-memory Library and ERC-20 ledger with wallet
// connectors and providers, used to exercise the client without a chain.
package memledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/evm"
)

// Default addresses of the deployed contracts.
const (
	LibraryAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	TokenAddress   = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

// ErrReadFailed is returned by reads while a read fault is armed.
var ErrReadFailed = errors.New("memledger: read failed")

type book struct {
	id     [32]byte
	name   string
	copies uint64
}

type sink struct {
	fn func(bookledger.LedgerEvent)
	to string // token transfer filter, lower-case
}

// Ledger is the shared in-memory chain state.
type Ledger struct {
	mu sync.Mutex

	owner          string
	libraryAddress string
	tokenAddress   string
	rentPrice      *big.Int

	books      []*book
	borrowed   map[string]map[[32]byte]bool
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int

	nonce       uint64
	blockNumber uint64

	reads        int
	writes       int
	failReadsAt  int
	rejectWrites error
	revertNext   map[bookledger.Action]bool

	bookSinks     map[int]sink
	transferSinks map[int]sink
	nextSink      int
}

// New creates a ledger whose library is owned by owner. Every borrow costs
// rentPrice tokens; a nil price disables token charging.
func New(owner string, rentPrice *big.Int) *Ledger {
	return &Ledger{
		owner:          key(owner),
		libraryAddress: key(LibraryAddress),
		tokenAddress:   key(TokenAddress),
		rentPrice:      rentPrice,
		borrowed:       make(map[string]map[[32]byte]bool),
		balances:       make(map[string]*big.Int),
		allowances:     make(map[string]map[string]*big.Int),
		failReadsAt:    -1,
		revertNext:     make(map[bookledger.Action]bool),
		bookSinks:      make(map[int]sink),
		transferSinks:  make(map[int]sink),
	}
}

func key(address string) string {
	return strings.ToLower(address)
}

// BookIDFor returns the id the ledger assigns to a book name.
func BookIDFor(name string) bookledger.BookID {
	return bookledger.BookIDFromBytes32(crypto.Keccak256Hash([]byte(name)))
}

// ============================================================================
// Seeding and fault injection
// ============================================================================

// SeedBook adds a book directly, without a transaction or event.
func (l *Ledger) SeedBook(name string, copies uint64) bookledger.BookID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := crypto.Keccak256Hash([]byte(name))
	l.books = append(l.books, &book{id: id, name: name, copies: copies})
	return bookledger.BookIDFromBytes32(id)
}

// SeedBorrowed marks id as borrowed by account.
func (l *Ledger) SeedBorrowed(account string, id bookledger.BookID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, _ := id.Bytes32()
	l.setBorrowedLocked(key(account), raw, true)
}

// Mint credits amount tokens to account.
func (l *Ledger) Mint(account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(key(account), amount)
}

// Balance returns the token balance of account.
func (l *Ledger) Balance(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(key(account)))
}

// IsBorrowed reports the borrowed flag for (account, id).
func (l *Ledger) IsBorrowed(account string, id bookledger.BookID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, _ := id.Bytes32()
	return l.borrowed[key(account)][raw]
}

// Reads returns the number of read calls served.
func (l *Ledger) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Writes returns the number of write calls received, including rejected ones.
func (l *Ledger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// FailReadsAfter makes every read fail once n more reads have succeeded.
// A negative n disarms the fault.
func (l *Ledger) FailReadsAfter(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		l.failReadsAt = -1
		return
	}
	l.failReadsAt = l.reads + n
}

// RejectWrites makes every write fail at submission with err. A nil err disarms it.
func (l *Ledger) RejectWrites(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectWrites = err
}

// RevertNext makes the next transaction of action be mined with failure status.
func (l *Ledger) RevertNext(action bookledger.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertNext[action] = true
}

// ============================================================================
// Internal state helpers (lock held)
// ============================================================================

func (l *Ledger) readLocked() error {
	if l.failReadsAt >= 0 && l.reads >= l.failReadsAt {
		return ErrReadFailed
	}
	l.reads++
	return nil
}

func (l *Ledger) findLocked(id [32]byte) *book {
	for _, b := range l.books {
		if b.id == id {
			return b
		}
	}
	return nil
}

func (l *Ledger) setBorrowedLocked(account string, id [32]byte, v bool) {
	if l.borrowed[account] == nil {
		l.borrowed[account] = make(map[[32]byte]bool)
	}
	l.borrowed[account][id] = v
}

func (l *Ledger) balanceLocked(account string) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) creditLocked(account string, amount *big.Int) {
	l.balances[account] = new(big.Int).Add(l.balanceLocked(account), amount)
}

func (l *Ledger) allowanceLocked(owner, spender string) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

func (l *Ledger) transferLocked(from, to string, amount *big.Int) bool {
	if l.balanceLocked(from).Cmp(amount) < 0 {
		return false
	}
	l.balances[from] = new(big.Int).Sub(l.balanceLocked(from), amount)
	l.creditLocked(to, amount)
	return true
}

func (l *Ledger) nextHashLocked() string {
	l.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.nonce)
	return crypto.Keccak256Hash([]byte("memledger-tx"), buf[:]).Hex()
}

// ============================================================================
// Transactions
// ============================================================================

// emitted is an event plus the transfer destination used for filtering.
type emitted struct {
	bookledger.LedgerEvent
	to string
}

// effect applies a transaction when it is mined. It returns false to revert
// and the events the transaction emits.
type effect func() (ok bool, events []emitted)

// Tx is a submitted transaction. It is mined on the first Wait.
type Tx struct {
	ledger *Ledger
	hash   string
	action bookledger.Action
	effect effect
	revert bool

	once    sync.Once
	receipt *bookledger.Receipt
}

func (t *Tx) Hash() string {
	return t.hash
}

// Wait mines the transaction and returns its receipt.
func (t *Tx) Wait(ctx context.Context) (*bookledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.once.Do(t.mine)
	return t.receipt, nil
}

func (t *Tx) mine() {
	l := t.ledger
	l.mu.Lock()
	l.blockNumber++
	status := uint64(evm.TxStatusFailed)
	var events []emitted
	if !t.revert {
		if ok, evs := t.effect(); ok {
			status = evm.TxStatusSuccess
			events = evs
		}
	}
	t.receipt = &bookledger.Receipt{Status: status, BlockNumber: l.blockNumber, TxHash: t.hash}
	for i := range events {
		events[i].TxHash = t.hash
		events[i].BlockNumber = l.blockNumber
	}
	bookSinks, transferSinks := l.sinksLocked()
	l.mu.Unlock()

	for _, ev := range events {
		if ev.Kind == bookledger.EventTokenTransfer {
			for _, s := range transferSinks {
				if ev.to == s.to {
					s.fn(ev.LedgerEvent)
				}
			}
			continue
		}
		for _, s := range bookSinks {
			s.fn(ev.LedgerEvent)
		}
	}
}

func (l *Ledger) submit(action bookledger.Action, eff effect) (bookledger.TransactionHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.rejectWrites != nil {
		return nil, l.rejectWrites
	}
	revert := l.revertNext[action]
	delete(l.revertNext, action)
	return &Tx{ledger: l, hash: l.nextHashLocked(), action: action, effect: eff, revert: revert}, nil
}

// ============================================================================
// Events
// ============================================================================

func (l *Ledger) sinksLocked() ([]sink, []sink) {
	books := make([]sink, 0, len(l.bookSinks))
	for _, s := range l.bookSinks {
		books = append(books, s)
	}
	transfers := make([]sink, 0, len(l.transferSinks))
	for _, s := range l.transferSinks {
		transfers = append(transfers, s)
	}
	return books, transfers
}

func (l *Ledger) watch(sinks map[int]sink, s sink) event.Subscription {
	l.mu.Lock()
	id := l.nextSink
	l.nextSink++
	sinks[id] = s
	l.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		l.mu.Lock()
		delete(sinks, id)
		l.mu.Unlock()
		return nil
	})
}

// Watchers returns the number of live event registrations.
func (l *Ledger) Watchers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bookSinks) + len(l.transferSinks)
}

// ============================================================================
// Binder
// ============================================================================

type binder struct {
	ledger *Ledger
}

// Binder returns a bookledger.Binder for this ledger.
func (l *Ledger) Binder() bookledger.Binder {
	return &binder{ledger: l}
}

func (b *binder) BindLibrary(p bookledger.Provider, address string) (bookledger.Library, error) {
	if key(address) != b.ledger.libraryAddress {
		return nil, fmt.Errorf("no library deployed at %s", address)
	}
	return &Library{ledger: b.ledger, provider: p}, nil
}

func (b *binder) BindToken(p bookledger.Provider, address string) (bookledger.Token, error) {
	if key(address) != b.ledger.tokenAddress {
		return nil, fmt.Errorf("no token deployed at %s", address)
	}
	return &Token{ledger: b.ledger, provider: p}, nil
}

// sender resolves the account a binding signs with.
func sender(ctx context.Context, p bookledger.Provider) (string, error) {
	accounts, err := p.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", errors.New("memledger: provider has no account")
	}
	return key(accounts[0]), nil
}

// As returns a library binding acting as account, for transactions by other parties.
func (l *Ledger) As(account string) *Library {
	return &Library{ledger: l, provider: NewProvider([]string{account}, big.NewInt(1))}
}

// TokenAs returns a token binding acting as account.
func (l *Ledger) TokenAs(account string) *Token {
	return &Token{ledger: l, provider: NewProvider([]string{account}, big.NewInt(1))}
}

// addressOf returns a checksummed address for display in events.
func addressOf(account string) string {
	return common.HexToAddress(account).Hex()
}
