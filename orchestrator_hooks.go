package bookledger

import (
	"context"
	"time"
)

// ============================================================================
// Orchestrator Hook Context Types
// ============================================================================

// SubmitContext contains information passed to every transaction hook
type SubmitContext struct {
	Ctx          context.Context
	Action       Action
	SessionID    string
	ConnectionID string
	Address      string
	Metadata     map[string]interface{}
	Timestamp    time.Time
}

// SubmittedContext is passed once the ledger accepted the transaction
type SubmittedContext struct {
	SubmitContext
	Transaction PendingTransaction
}

// ConfirmedContext contains the outcome of a confirmed transaction
type ConfirmedContext struct {
	SubmitContext
	Outcome  Outcome
	Duration time.Duration
}

// FailureContext contains the outcome of a rejected or failed transaction
type FailureContext struct {
	SubmitContext
	Outcome  Outcome
	Error    error
	Duration time.Duration
}

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the transaction is not submitted and Reason is reported
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Orchestrator Hook Function Types
// ============================================================================

// BeforeSubmitHook is called before the transaction is sent.
// Returning Abort=true or an error prevents submission.
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// OnSubmittedHook is called with the transaction hash before inclusion is awaited.
// Errors are logged and do not affect the transaction.
type OnSubmittedHook func(SubmittedContext) error

// AfterConfirmHook is called after a transaction is included with success status.
// Errors are logged and do not affect the outcome.
type AfterConfirmHook func(ConfirmedContext) error

// OnFailureHook is called when a transaction is rejected, aborted or fails on inclusion.
// Errors are logged and do not affect the outcome.
type OnFailureHook func(FailureContext) error

// ============================================================================
// Orchestrator Hook Registration Options
// ============================================================================

// WithBeforeSubmitHook registers a hook to execute before submission
func WithBeforeSubmitHook(hook BeforeSubmitHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.beforeSubmitHooks = append(o.beforeSubmitHooks, hook)
	}
}

// WithOnSubmittedHook registers a hook to execute once a hash is known
func WithOnSubmittedHook(hook OnSubmittedHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onSubmittedHooks = append(o.onSubmittedHooks, hook)
	}
}

// WithAfterConfirmHook registers a hook to execute after a confirmed transaction
func WithAfterConfirmHook(hook AfterConfirmHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.afterConfirmHooks = append(o.afterConfirmHooks, hook)
	}
}

// WithOnFailureHook registers a hook to execute after a failed transaction
func WithOnFailureHook(hook OnFailureHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onFailureHooks = append(o.onFailureHooks, hook)
	}
}
