package evm

import "time"

const (
	// Library read functions
	FunctionGetBooksLength      = "getBooksLength"
	FunctionBooksID             = "booksId"
	FunctionBooksInLibrary      = "booksInLibrary"
	FunctionBorrowedBooksByUser = "borrowedBooksByUser"
	FunctionOwner               = "owner"

	// Library write functions
	FunctionAddBook    = "addBook"
	FunctionBorrowBook = "borrowBook"
	FunctionReturnBook = "returnBook"
	FunctionWithdraw   = "withdraw"

	// ERC-20 functions
	FunctionBalanceOf = "balanceOf"
	FunctionAllowance = "allowance"
	FunctionApprove   = "approve"

	// Ledger events
	EventBookAdded    = "BookAdded"
	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
	EventTransfer     = "Transfer"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// DefaultGasLimit is used when gas estimation fails for a library write.
	DefaultGasLimit = uint64(300000)

	// DefaultReceiptTimeout bounds how long a submitted transaction is waited on.
	DefaultReceiptTimeout = 2 * time.Minute

	// DefaultReceiptPollInterval is the delay between receipt lookups.
	DefaultReceiptPollInterval = time.Second
)

var (
	// LibraryABI describes the deployed Library contract.
	LibraryABI = []byte(`[
		{
			"inputs": [],
			"name": "getBooksLength",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "", "type": "uint256"}],
			"name": "booksId",
			"outputs": [{"name": "", "type": "bytes32"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "", "type": "bytes32"}],
			"name": "booksInLibrary",
			"outputs": [
				{"name": "name", "type": "string"},
				{"name": "copies", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "", "type": "address"},
				{"name": "", "type": "bytes32"}
			],
			"name": "borrowedBooksByUser",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "owner",
			"outputs": [{"name": "", "type": "address"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "name", "type": "string"},
				{"name": "copies", "type": "uint256"}
			],
			"name": "addBook",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "bookId", "type": "bytes32"}],
			"name": "borrowBook",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "bookId", "type": "bytes32"}],
			"name": "returnBook",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "amount", "type": "uint256"}],
			"name": "withdraw",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "bookId", "type": "bytes32"},
				{"indexed": false, "name": "name", "type": "string"},
				{"indexed": false, "name": "copies", "type": "uint256"}
			],
			"name": "BookAdded",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "bookId", "type": "bytes32"},
				{"indexed": false, "name": "borrower", "type": "address"}
			],
			"name": "BookBorrowed",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": false, "name": "bookId", "type": "bytes32"},
				{"indexed": false, "name": "borrower", "type": "address"}
			],
			"name": "BookReturned",
			"type": "event"
		}
	]`)

	// ERC20ABI is the subset of ERC-20 the payment gate reads, writes and watches.
	ERC20ABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "from", "type": "address"},
				{"indexed": true, "name": "to", "type": "address"},
				{"indexed": false, "name": "value", "type": "uint256"}
			],
			"name": "Transfer",
			"type": "event"
		}
	]`)
)
