package bookledger

import (
	"context"
	"math/big"
)

// ============================================================================
// Ledger binding interfaces
// ============================================================================

// TransactionHandle is a submitted write awaiting inclusion.
type TransactionHandle interface {
	Hash() string
	Wait(ctx context.Context) (*Receipt, error)
}

// Subscription is a live event registration. ethereum.Subscription satisfies it.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// LibraryReader is the read surface of the Library contract.
type LibraryReader interface {
	BooksLength(ctx context.Context) (uint64, error)
	BookIDAt(ctx context.Context, index uint64) (BookID, error)
	Book(ctx context.Context, id BookID) (name string, copies uint64, err error)
	IsBorrowedBy(ctx context.Context, account string, id BookID) (bool, error)
	Owner(ctx context.Context) (string, error)
}

// LibraryWriter is the write surface of the Library contract.
type LibraryWriter interface {
	AddBook(ctx context.Context, name string, copies uint64) (TransactionHandle, error)
	BorrowBook(ctx context.Context, id BookID) (TransactionHandle, error)
	ReturnBook(ctx context.Context, id BookID) (TransactionHandle, error)
	Withdraw(ctx context.Context, amount *big.Int) (TransactionHandle, error)
}

// LibraryEvents streams BookAdded, BookBorrowed and BookReturned.
type LibraryEvents interface {
	WatchBookEvents(ctx context.Context, sink func(LedgerEvent)) (Subscription, error)
}

// Library is a binding to the deployed Library contract.
type Library interface {
	LibraryReader
	LibraryWriter
	LibraryEvents
	Address() string
}

// TokenReader is the read surface of the ERC-20 token.
type TokenReader interface {
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
}

// TokenWriter is the write surface of the ERC-20 token.
type TokenWriter interface {
	Approve(ctx context.Context, spender string, amount *big.Int) (TransactionHandle, error)
}

// TokenEvents streams Transfer events whose destination is to.
type TokenEvents interface {
	WatchTransfersTo(ctx context.Context, to string, sink func(LedgerEvent)) (Subscription, error)
}

// Token is a binding to the ERC-20 payment token.
type Token interface {
	TokenReader
	TokenWriter
	TokenEvents
	Address() string
}

// ============================================================================
// Wallet interfaces
// ============================================================================

// Provider is an acquired wallet connection.
type Provider interface {
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close() error
}

// ProviderEventSource is implemented by providers that emit wallet events.
// The returned unsubscribe may be nil when the provider cannot de-register.
type ProviderEventSource interface {
	On(kind ProviderEventKind, handler func(ProviderEvent)) (unsubscribe func())
}

// Connector acquires providers of one kind.
type Connector interface {
	Name() string
	Connect(ctx context.Context) (Provider, error)
}

// ConnectorCacher is implemented by connectors that persist per-connector state
// alongside the cached provider flag.
type ConnectorCacher interface {
	CacheValue(p Provider) string
}

// ConnectorRestorer is implemented by connectors that accept their cached
// value back before a resumed Connect.
type ConnectorRestorer interface {
	RestoreCache(value string)
}

// Binder binds ledger addresses to a provider's signing identity.
type Binder interface {
	BindLibrary(p Provider, address string) (Library, error)
	BindToken(p Provider, address string) (Token, error)
}

// SessionPrefs persists the cached provider flags.
type SessionPrefs interface {
	Load() (CachedSession, error)
	Save(CachedSession) error
	Clear() error
}

// ============================================================================
// Instrumentation
// ============================================================================

// Metrics receives counters and timings from the core.
type Metrics interface {
	ObserveTransaction(action Action, outcome OutcomeKind, seconds float64)
	ObserveReconcile(seconds float64, books int, err error)
	IncLedgerEvent(kind EventKind, external bool)
	IncProviderEvent(kind ProviderEventKind)
	SetConnected(connected bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTransaction(Action, OutcomeKind, float64) {}
func (nopMetrics) ObserveReconcile(float64, int, error) {}
func (nopMetrics) IncLedgerEvent(EventKind, bool) {}
func (nopMetrics) IncProviderEvent(ProviderEventKind) {}
func (nopMetrics) SetConnected(bool) {}
