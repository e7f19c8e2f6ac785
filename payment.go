package bookledger

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/bookledger/bookledger/pkg/logger"
)

// DefaultRentPrice is the token amount, in base units, one rental costs.
var DefaultRentPrice = big.NewInt(1)

// PaymentGate implements the approve-then-spend protocol of the token variant.
// It is active only for sessions bound to a token.
type PaymentGate struct {
	store        *Store
	orchestrator *Orchestrator
	rentPrice    *big.Int
	refresh      func(ctx context.Context, sess *Session) error
	logger       logger.Logger
}

// NewPaymentGate creates a gate. refresh runs after every gated transaction.
func NewPaymentGate(
	store *Store,
	orchestrator *Orchestrator,
	rentPrice *big.Int,
	refresh func(ctx context.Context, sess *Session) error,
	log logger.Logger,
) *PaymentGate {
	if rentPrice == nil || rentPrice.Sign() <= 0 {
		rentPrice = DefaultRentPrice
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PaymentGate{
		store:        store,
		orchestrator: orchestrator,
		rentPrice:    new(big.Int).Set(rentPrice),
		refresh:      refresh,
		logger:       log,
	}
}

// Enabled reports whether sess can use the gate.
func (p *PaymentGate) Enabled(sess *Session) bool {
	return sess != nil && sess.Connected && sess.Token != nil
}

// RentPrice returns the cost of one rental.
func (p *PaymentGate) RentPrice() *big.Int {
	return new(big.Int).Set(p.rentPrice)
}

func (p *PaymentGate) require(sess *Session) error {
	if sess == nil || !sess.Connected {
		return ErrNotConnected
	}
	if sess.Token == nil {
		return NewError(ErrCodeTokenDisabled, "Token payments are not configured", nil)
	}
	return nil
}

// GetAllowance reads the approved amount and both balances and publishes them.
func (p *PaymentGate) GetAllowance(ctx context.Context, sess *Session) (Allowance, error) {
	if err := p.require(sess); err != nil {
		return Allowance{}, err
	}
	library := sess.Library.Address()

	approved, err := sess.Token.Allowance(ctx, sess.Address, library)
	if err != nil {
		return Allowance{}, fmt.Errorf("failed to read allowance: %w", err)
	}
	userBalance, err := sess.Token.BalanceOf(ctx, sess.Address)
	if err != nil {
		return Allowance{}, fmt.Errorf("failed to read user balance: %w", err)
	}
	ledgerBalance, err := sess.Token.BalanceOf(ctx, library)
	if err != nil {
		return Allowance{}, fmt.Errorf("failed to read library balance: %w", err)
	}

	a := Allowance{Approved: approved, UserBalance: userBalance, LedgerBalance: ledgerBalance}
	p.store.Apply(forSession(sess.ID, allowanceRead(a)))
	return a, nil
}

// Approve sets the amount the library may pull from the session account.
func (p *PaymentGate) Approve(ctx context.Context, sess *Session, amount *big.Int) Outcome {
	if err := p.require(sess); err != nil {
		return p.reject(sess, ActionApprove, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return p.reject(sess, ActionApprove, NewError(ErrCodeInvalidAmount, "Amount should be > 0", nil))
	}

	spender := sess.Library.Address()
	return p.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionApprove,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Token.Approve(ctx, spender, amount)
		},
		Refresh:  p.refreshFor(sess),
		Metadata: map[string]interface{}{"amount": amount.String()},
	})
}

// Spend borrows a book after checking a fresh allowance covers the rent price.
// An insufficient allowance never reaches the ledger.
func (p *PaymentGate) Spend(ctx context.Context, sess *Session, id BookID) Outcome {
	if err := p.require(sess); err != nil {
		return p.reject(sess, ActionBorrow, err)
	}

	allowance, err := p.GetAllowance(ctx, sess)
	if err != nil {
		return p.reject(sess, ActionBorrow, WrapError(ErrCodeReconcileFailed, "Failed to read allowance", err, nil))
	}
	if allowance.Approved.Cmp(p.rentPrice) < 0 {
		p.logger.Info("borrow blocked by allowance",
			zap.String("approved", allowance.Approved.String()),
			zap.String("price", p.rentPrice.String()))
		return p.reject(sess, ActionBorrow, NewError(ErrCodeInsufficientAllowance, MsgInsufficientAllowance, map[string]interface{}{
			"approved": allowance.Approved.String(),
			"required": p.rentPrice.String(),
		}))
	}

	return p.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionBorrow,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Library.BorrowBook(ctx, id)
		},
		Refresh:  p.refreshFor(sess),
		Metadata: map[string]interface{}{"bookId": string(id), "price": p.rentPrice.String()},
	})
}

// Withdraw moves amount of the library's token balance to its owner.
func (p *PaymentGate) Withdraw(ctx context.Context, sess *Session, amount *big.Int) Outcome {
	if err := p.require(sess); err != nil {
		return p.reject(sess, ActionWithdraw, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return p.reject(sess, ActionWithdraw, NewError(ErrCodeInvalidAmount, "Amount should be > 0", nil))
	}

	return p.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionWithdraw,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Library.Withdraw(ctx, amount)
		},
		Refresh:  p.refreshFor(sess),
		Metadata: map[string]interface{}{"amount": amount.String()},
	})
}

// Affordance returns the action offered for book given the current allowance.
func (p *PaymentGate) Affordance(book Book, allowance Allowance) Affordance {
	if !book.Rentable {
		return AffordanceNone
	}
	if allowance.Approved == nil || allowance.Approved.Cmp(p.rentPrice) < 0 {
		return AffordanceApprove
	}
	return AffordanceRent
}

func (p *PaymentGate) refreshFor(sess *Session) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return p.refresh(ctx, sess)
	}
}

func (p *PaymentGate) reject(sess *Session, action Action, err error) Outcome {
	if sess != nil {
		p.store.Apply(forSession(sess.ID, setError(UserMessage(err))))
	}
	return rejected(action, err)
}
