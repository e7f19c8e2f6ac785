package bookledger

import (
	"context"
	"strings"
)

// ValidateDraft checks an add-book draft against the current inventory.
func ValidateDraft(draft FormDraft, inv Inventory) error {
	name := strings.TrimSpace(draft.BookName)
	if name == "" {
		return NewError(ErrCodeInvalidBookName, MsgEmptyBookName, nil)
	}
	if draft.BookCopies < 1 {
		return NewError(ErrCodeInvalidCopies, MsgInvalidCopies, map[string]interface{}{
			"copies": draft.BookCopies,
		})
	}
	if existing, ok := inv.FindByName(name); ok {
		return NewError(ErrCodeDuplicateBook, MsgDuplicateBook, map[string]interface{}{
			"bookId": string(existing.ID),
		})
	}
	return nil
}

// UpdateForm replaces the add-book draft.
func (c *Client) UpdateForm(draft FormDraft) {
	c.store.Apply(formUpdated(draft))
}

// ResetForm clears the add-book draft.
func (c *Client) ResetForm() {
	c.store.Apply(formUpdated(FormDraft{}))
}

// SubmitForm adds the book described by the current draft. The draft is kept.
func (c *Client) SubmitForm(ctx context.Context) Outcome {
	form := c.store.Snapshot().Form
	return c.AddBook(ctx, form.BookName, form.BookCopies)
}

// AddBook validates and submits a new book. Validation failures never reach the ledger.
func (c *Client) AddBook(ctx context.Context, name string, copies int64) Outcome {
	sess := c.sessions.Current()
	if sess == nil {
		return rejected(ActionAddBook, ErrNotConnected)
	}

	state := c.store.Apply(forSession(sess.ID, clearError()))
	if err := ValidateDraft(FormDraft{BookName: name, BookCopies: copies}, state.Inventory); err != nil {
		c.store.Apply(forSession(sess.ID, setError(UserMessage(err))))
		return rejected(ActionAddBook, err)
	}

	name = strings.TrimSpace(name)
	return c.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionAddBook,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Library.AddBook(ctx, name, uint64(copies))
		},
		Refresh:  c.refreshFor(sess),
		Metadata: map[string]interface{}{"name": name, "copies": copies},
	})
}

// Borrow rents a book. With token payments enabled the allowance must cover
// the rent price first.
func (c *Client) Borrow(ctx context.Context, id BookID) Outcome {
	sess := c.sessions.Current()
	if sess == nil {
		return rejected(ActionBorrow, ErrNotConnected)
	}
	if err := c.checkBookID(sess, id); err != nil {
		return rejected(ActionBorrow, err)
	}
	if c.payment.Enabled(sess) {
		return c.payment.Spend(ctx, sess, id)
	}

	return c.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionBorrow,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Library.BorrowBook(ctx, id)
		},
		Refresh:  c.refreshFor(sess),
		Metadata: map[string]interface{}{"bookId": string(id)},
	})
}

// Return gives a rented book back.
func (c *Client) Return(ctx context.Context, id BookID) Outcome {
	sess := c.sessions.Current()
	if sess == nil {
		return rejected(ActionReturn, ErrNotConnected)
	}
	if err := c.checkBookID(sess, id); err != nil {
		return rejected(ActionReturn, err)
	}

	return c.orchestrator.Submit(ctx, TxRequest{
		Action:  ActionReturn,
		Session: sess,
		Send: func(ctx context.Context) (TransactionHandle, error) {
			return sess.Library.ReturnBook(ctx, id)
		},
		Refresh:  c.refreshFor(sess),
		Metadata: map[string]interface{}{"bookId": string(id)},
	})
}

// Affordance returns the action offered for book in the current state.
func (c *Client) Affordance(book Book) Affordance {
	if !c.payment.Enabled(c.sessions.Current()) {
		if book.Rentable {
			return AffordanceRent
		}
		return AffordanceNone
	}
	return c.payment.Affordance(book, c.store.Snapshot().Allowance)
}

func (c *Client) checkBookID(sess *Session, id BookID) error {
	if _, err := id.Bytes32(); err != nil {
		err := WrapError(ErrCodeInvalidBookID, "Invalid book id", err, map[string]interface{}{
			"bookId": string(id),
		})
		c.store.Apply(forSession(sess.ID, setError(err.Message)))
		return err
	}
	return nil
}

func (c *Client) refreshFor(sess *Session) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.sync(ctx, sess)
	}
}
