package bookledger

import (
	"math/big"
	"strings"
	"time"

	"github.com/bookledger/bookledger/ledger/evm"
)

// BookID is the ledger-assigned book identifier, a 0x-prefixed bytes32 hex string.
type BookID string

// Bytes32 decodes the id for ABI calls.
func (id BookID) Bytes32() ([32]byte, error) {
	return evm.Bytes32FromHex(string(id))
}

// BookIDFromBytes32 encodes a raw ledger id.
func BookIDFromBytes32(raw [32]byte) BookID {
	return BookID(evm.BytesToHex(raw[:]))
}

// Book is one ledger entry as seen by the current account.
type Book struct {
	ID       BookID `json:"id"`
	Name     string `json:"name"`
	Copies   uint64 `json:"copies"`
	Rentable bool   `json:"rentable"`
}

// Inventory holds the views derived from one ledger scan.
type Inventory struct {
	All       []Book `json:"all"`
	Available []Book `json:"available"`
	Rented    []Book `json:"rented"`
}

// FindByName returns the book whose name equals the trimmed name.
func (inv Inventory) FindByName(name string) (Book, bool) {
	name = strings.TrimSpace(name)
	for _, b := range inv.All {
		if b.Name == name {
			return b, true
		}
	}
	return Book{}, false
}

// Find returns the book with the given id.
func (inv Inventory) Find(id BookID) (Book, bool) {
	for _, b := range inv.All {
		if strings.EqualFold(string(b.ID), string(id)) {
			return b, true
		}
	}
	return Book{}, false
}

// Allowance is the token position read from the token ledger.
type Allowance struct {
	Approved      *big.Int `json:"approved"`
	UserBalance   *big.Int `json:"userBalance"`
	LedgerBalance *big.Int `json:"ledgerBalance"`
}

// ZeroAllowance returns an allowance with every amount set to zero.
func ZeroAllowance() Allowance {
	return Allowance{
		Approved:      new(big.Int),
		UserBalance:   new(big.Int),
		LedgerBalance: new(big.Int),
	}
}

// Action names a mutating ledger call.
type Action string

const (
	ActionAddBook  Action = "add_book"
	ActionBorrow   Action = "borrow"
	ActionReturn   Action = "return"
	ActionApprove  Action = "approve"
	ActionWithdraw Action = "withdraw"
)

// TxStatus is the lifecycle status of a submitted transaction.
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// PendingTransaction is a transaction this session submitted.
type PendingTransaction struct {
	Hash        string    `json:"hash"`
	Action      Action    `json:"action"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      TxStatus  `json:"status"`
	ExplorerURL string    `json:"explorerUrl,omitempty"`
}

// FormDraft is the add-book input awaiting submission.
type FormDraft struct {
	BookName   string `json:"bookName"`
	BookCopies int64  `json:"bookCopies"`
}

// Receipt is the inclusion record of a mined transaction.
type Receipt = evm.TransactionReceipt

// EventKind identifies a ledger-emitted event.
type EventKind string

const (
	EventBookAdded     EventKind = "book_added"
	EventBookBorrowed  EventKind = "book_borrowed"
	EventBookReturned  EventKind = "book_returned"
	EventTokenTransfer EventKind = "token_transfer"
)

// LedgerEvent is a decoded library or token log.
type LedgerEvent struct {
	Kind        EventKind `json:"kind"`
	BookID      BookID    `json:"bookId,omitempty"`
	Name        string    `json:"name,omitempty"`
	Copies      uint64    `json:"copies,omitempty"`
	Account     string    `json:"account,omitempty"`
	Amount      *big.Int  `json:"amount,omitempty"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
}

// ProviderEventKind identifies a wallet provider event.
type ProviderEventKind string

const (
	ProviderAccountsChanged ProviderEventKind = "accountsChanged"
	ProviderNetworkChanged  ProviderEventKind = "networkChanged"
	ProviderClose           ProviderEventKind = "close"
	ProviderError           ProviderEventKind = "error"
)

// ProviderEvent carries the payload of a provider event.
type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []string
	ChainID  *big.Int
	Err      error
}

// CachedSession is the persisted record of the last connector used.
type CachedSession struct {
	CachedProvider string `toml:"cached_provider"`
	ConnectorCache string `toml:"connector_cache"`
}

// Empty reports whether nothing is cached.
func (c CachedSession) Empty() bool {
	return c.CachedProvider == "" && c.ConnectorCache == ""
}

// Affordance is the action offered to the user for an available book.
type Affordance string

const (
	AffordanceNone    Affordance = "none"
	AffordanceApprove Affordance = "approve"
	AffordanceRent    Affordance = "rent"
)
