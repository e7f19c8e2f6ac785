package bookledger

import (
	"errors"
	"fmt"
)

// Error is a classified, user-presentable failure.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Error codes
const (
	ErrCodeInvalidBookName       = "invalid_book_name"
	ErrCodeInvalidCopies         = "invalid_copies"
	ErrCodeDuplicateBook         = "duplicate_book"
	ErrCodeInvalidAddress        = "invalid_address"
	ErrCodeInvalidBookID         = "invalid_book_id"
	ErrCodeInvalidAmount         = "invalid_amount"
	ErrCodeInsufficientAllowance = "insufficient_allowance"
	ErrCodeNotConnected          = "not_connected"
	ErrCodeTokenDisabled         = "token_disabled"
	ErrCodeSubmissionFailed      = "submission_failed"
	ErrCodeTransactionFailed     = "transaction_failed"
	ErrCodeReconcileFailed       = "reconcile_failed"
	ErrCodeConnectFailed         = "connect_failed"
	ErrCodeAborted               = "aborted"
)

// User-visible messages
const (
	MsgEmptyBookName         = "Book name should not be empty"
	MsgInvalidCopies         = "Book copies should be > 0"
	MsgDuplicateBook         = "Book already added"
	MsgFailedTransaction     = "Failed transaction"
	MsgInsufficientAllowance = "Approve the library to spend the rent price first"
)

var (
	ErrNotConnected       = errors.New("wallet session is not connected")
	ErrOrchestratorClosed = errors.New("transaction orchestrator is closed")
	ErrNoCachedProvider   = errors.New("no cached provider to resume")
)

// NewError creates a new classified error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapError creates a classified error carrying cause.
func WrapError(code, message string, cause error, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
		cause:   cause,
	}
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
