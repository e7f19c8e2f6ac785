package bookledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookledger/bookledger/ledger/evm"
	"github.com/bookledger/bookledger/pkg/logger"
)

// DefaultRefreshTimeout bounds the refresh that follows every transaction.
const DefaultRefreshTimeout = time.Minute

// OutcomeKind classifies a finished transaction request.
type OutcomeKind string

const (
	// OutcomeConfirmed means the transaction was included with success status.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeFailed means the transaction was submitted but did not succeed.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeRejected means nothing reached the ledger.
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the classified result of a mutating action.
type Outcome struct {
	Action      Action        `json:"action"`
	Kind        OutcomeKind   `json:"kind"`
	Hash        string        `json:"hash,omitempty"`
	ExplorerURL string        `json:"explorerUrl,omitempty"`
	Receipt     *Receipt      `json:"receipt,omitempty"`
	Err         error         `json:"-"`
	RefreshErr  error         `json:"-"`
	Duration    time.Duration `json:"duration"`
}

// Confirmed reports whether the transaction succeeded.
func (o Outcome) Confirmed() bool {
	return o.Kind == OutcomeConfirmed
}

func rejected(action Action, err error) Outcome {
	return Outcome{Action: action, Kind: OutcomeRejected, Err: err}
}

// TxRequest describes one mutating ledger call.
type TxRequest struct {
	Action  Action
	Session *Session
	// Send submits the write and returns its handle.
	Send func(ctx context.Context) (TransactionHandle, error)
	// Refresh runs after the transaction completes, whatever the outcome.
	Refresh  func(ctx context.Context) error
	Metadata map[string]interface{}
}

type command struct {
	ctx  context.Context
	req  TxRequest
	done chan Outcome
}

// Orchestrator runs mutating ledger calls one at a time through a single worker.
type Orchestrator struct {
	store          *Store
	txCache        *TxCache
	logger         logger.Logger
	metrics        Metrics
	refreshTimeout time.Duration

	beforeSubmitHooks []BeforeSubmitHook
	onSubmittedHooks  []OnSubmittedHook
	afterConfirmHooks []AfterConfirmHook
	onFailureHooks    []OnFailureHook

	queue     chan *command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger
func WithOrchestratorLogger(l logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorMetrics sets the metrics sink
func WithOrchestratorMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRefreshTimeout bounds the post-transaction refresh
func WithRefreshTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// NewOrchestrator creates an orchestrator and starts its worker.
func NewOrchestrator(store *Store, txCache *TxCache, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		txCache:        txCache,
		logger:         logger.NewNop(),
		metrics:        nopMetrics{},
		refreshTimeout: DefaultRefreshTimeout,
		queue:          make(chan *command),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.loop()
	return o
}

// Submit queues req and blocks until it completes. ctx only bounds the wait
// for a queue slot and the submission itself; once a transaction is sent its
// outcome is awaited to the end.
// Requests are executed strictly one after another.
func (o *Orchestrator) Submit(ctx context.Context, req TxRequest) Outcome {
	if req.Session == nil || !req.Session.Connected {
		return rejected(req.Action, ErrNotConnected)
	}

	cmd := &command{ctx: ctx, req: req, done: make(chan Outcome, 1)}
	select {
	case o.queue <- cmd:
	case <-o.quit:
		return rejected(req.Action, ErrOrchestratorClosed)
	case <-ctx.Done():
		return rejected(req.Action, ctx.Err())
	}

	return <-cmd.done
}

// Close stops accepting requests and waits for the running one to finish.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.quit)
	})
	<-o.done
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			return
		case cmd := <-o.queue:
			cmd.done <- o.run(cmd.ctx, cmd.req)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, req TxRequest) Outcome {
	if err := ctx.Err(); err != nil {
		return rejected(req.Action, err)
	}
	start := time.Now()
	sess := req.Session
	submitCtx := SubmitContext{
		Ctx:          ctx,
		Action:       req.Action,
		SessionID:    sess.ID,
		ConnectionID: sess.ConnectionID,
		Address:      sess.Address,
		Metadata:     req.Metadata,
		Timestamp:    start,
	}

	for _, hook := range o.beforeSubmitHooks {
		result, err := hook(submitCtx)
		if err != nil {
			return o.finishAborted(submitCtx, WrapError(ErrCodeAborted, "Transaction aborted", err, nil))
		}
		if result != nil && result.Abort {
			return o.finishAborted(submitCtx, NewError(ErrCodeAborted, result.Reason, nil))
		}
	}

	outcome := Outcome{Action: req.Action}
	o.store.Apply(forConnection(sess.ConnectionID, txStarted()))

	handle, err := req.Send(ctx)
	if err != nil {
		outcome.Kind = OutcomeRejected
		outcome.Err = WrapError(ErrCodeSubmissionFailed, "Transaction was not submitted", err, map[string]interface{}{
			"action": string(req.Action),
		})
		o.store.Apply(forConnection(sess.ConnectionID, txFinished(nil, UserMessage(outcome.Err))))
	} else {
		outcome = o.await(ctx, submitCtx, sess, handle)
	}

	if req.Refresh != nil {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.refreshTimeout)
		outcome.RefreshErr = req.Refresh(refreshCtx)
		cancel()
		if outcome.RefreshErr != nil {
			o.logger.Warn("refresh after transaction failed",
				zap.String("action", string(req.Action)),
				zap.Error(outcome.RefreshErr))
		}
	}

	outcome.Duration = time.Since(start)
	o.metrics.ObserveTransaction(req.Action, outcome.Kind, outcome.Duration.Seconds())
	o.runCompletionHooks(submitCtx, outcome)
	return outcome
}

func (o *Orchestrator) await(ctx context.Context, submitCtx SubmitContext, sess *Session, handle TransactionHandle) Outcome {
	hash := handle.Hash()
	outcome := Outcome{Action: submitCtx.Action, Hash: hash}

	pending := PendingTransaction{
		Hash:        hash,
		Action:      submitCtx.Action,
		SubmittedAt: time.Now(),
		Status:      TxSubmitted,
	}
	if url, ok := evm.ExplorerTxURL(sess.ChainID, hash); ok {
		pending.ExplorerURL = url
		outcome.ExplorerURL = url
	}

	o.txCache.Remember(hash)
	o.store.Apply(forConnection(sess.ConnectionID, txSubmitted(pending)))
	o.logger.Info("transaction submitted",
		zap.String("action", string(submitCtx.Action)),
		zap.String("hash", hash),
		zap.String("explorer", pending.ExplorerURL))

	for _, hook := range o.onSubmittedHooks {
		if err := hook(SubmittedContext{SubmitContext: submitCtx, Transaction: pending}); err != nil {
			o.logger.Warn("submitted hook failed", zap.String("hash", hash), zap.Error(err))
		}
	}

	receipt, err := handle.Wait(context.WithoutCancel(ctx))
	switch {
	case err != nil:
		outcome.Kind = OutcomeFailed
		outcome.Err = WrapError(ErrCodeTransactionFailed, MsgFailedTransaction, err, map[string]interface{}{
			"hash": hash,
		})
	case !receipt.Succeeded():
		details := map[string]interface{}{"hash": hash}
		if receipt != nil {
			details["status"] = receipt.Status
		}
		outcome.Kind = OutcomeFailed
		outcome.Receipt = receipt
		outcome.Err = NewError(ErrCodeTransactionFailed, MsgFailedTransaction, details)
	default:
		outcome.Kind = OutcomeConfirmed
		outcome.Receipt = receipt
	}

	pending.Status = TxConfirmed
	if outcome.Kind == OutcomeFailed {
		pending.Status = TxFailed
		o.logger.Warn("transaction failed",
			zap.String("action", string(submitCtx.Action)),
			zap.String("hash", hash),
			zap.Error(outcome.Err))
	} else {
		o.logger.Info("transaction confirmed",
			zap.String("action", string(submitCtx.Action)),
			zap.String("hash", hash),
			zap.Uint64("block", receipt.BlockNumber))
	}

	o.store.Apply(forConnection(sess.ConnectionID, txFinished(&pending, UserMessage(outcome.Err))))
	return outcome
}

func (o *Orchestrator) finishAborted(submitCtx SubmitContext, err *Error) Outcome {
	outcome := Outcome{
		Action:   submitCtx.Action,
		Kind:     OutcomeRejected,
		Err:      err,
		Duration: time.Since(submitCtx.Timestamp),
	}
	o.store.Apply(forConnection(submitCtx.ConnectionID, setError(err.Message)))
	o.metrics.ObserveTransaction(submitCtx.Action, outcome.Kind, outcome.Duration.Seconds())
	o.runCompletionHooks(submitCtx, outcome)
	return outcome
}

func (o *Orchestrator) runCompletionHooks(submitCtx SubmitContext, outcome Outcome) {
	if outcome.Kind == OutcomeConfirmed {
		for _, hook := range o.afterConfirmHooks {
			if err := hook(ConfirmedContext{SubmitContext: submitCtx, Outcome: outcome, Duration: outcome.Duration}); err != nil {
				o.logger.Warn("after confirm hook failed", zap.Error(err))
			}
		}
		return
	}
	for _, hook := range o.onFailureHooks {
		if err := hook(FailureContext{SubmitContext: submitCtx, Outcome: outcome, Error: outcome.Err, Duration: outcome.Duration}); err != nil {
			o.logger.Warn("failure hook failed", zap.Error(err))
		}
	}
}
