package bookledger_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/test/mocks/memledger"
)

func TestClient_ConnectScansInventory(t *testing.T) {
	f := newFixture(t, onChain(3))
	b1 := f.ledger.SeedBook("b1", 2)
	b2 := f.ledger.SeedBook("b2", 0)

	sess := f.connect()
	s := f.client.State()

	assert.True(t, s.Connected)
	assert.Equal(t, sess.Address, s.Address)
	assert.Equal(t, int64(3), s.ChainID.Int64())
	assert.Equal(t, []bookledger.BookID{b1, b2}, ids(s.Inventory.All))
	assert.Equal(t, []bookledger.BookID{b1}, ids(s.Inventory.Available))
	assert.Empty(t, s.Inventory.Rented)
	assert.False(t, s.IsAdmin)
	assert.False(t, s.Fetching)
}

func TestClient_BorrowMovesBookToRented(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 2)
	f.connect()

	out := f.client.Borrow(context.Background(), b1)
	require.True(t, out.Confirmed(), "outcome: %+v", out)
	assert.NotEmpty(t, out.Hash)

	s := f.client.State()
	require.Len(t, s.Inventory.Rented, 1)
	assert.Equal(t, b1, s.Inventory.Rented[0].ID)
	assert.Equal(t, uint64(2), s.Inventory.Rented[0].Copies, "copies track total stock")
	assert.Empty(t, s.Inventory.Available)
	assert.False(t, s.Fetching)
	assert.Empty(t, s.Error)
	require.NotNil(t, s.LastTx)
	assert.Equal(t, bookledger.TxConfirmed, s.LastTx.Status)
	assert.True(t, f.ledger.IsBorrowed(userAddress, b1))
}

func TestClient_FailedReturnKeepsRentedView(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 2)
	f.ledger.SeedBorrowed(userAddress, b1)
	f.connect()
	require.Len(t, f.client.State().Inventory.Rented, 1)

	f.ledger.RevertNext(bookledger.ActionReturn)
	out := f.client.Return(context.Background(), b1)

	assert.Equal(t, bookledger.OutcomeFailed, out.Kind)
	s := f.client.State()
	assert.Equal(t, bookledger.MsgFailedTransaction, s.Error)
	assert.False(t, s.Fetching)
	assert.Equal(t, []bookledger.BookID{b1}, ids(s.Inventory.Rented))
}

func TestClient_ReturnAfterBorrow(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()

	require.True(t, f.client.Borrow(context.Background(), b1).Confirmed())
	require.True(t, f.client.Return(context.Background(), b1).Confirmed())

	s := f.client.State()
	assert.Empty(t, s.Inventory.Rented)
	assert.Equal(t, []bookledger.BookID{b1}, ids(s.Inventory.Available))
}

func TestClient_RefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 2)
	f.ledger.SeedBook("b2", 0)
	f.ledger.SeedBook("b3", 4)
	f.ledger.SeedBorrowed(userAddress, b1)
	f.connect()

	require.NoError(t, f.client.Refresh(context.Background()))
	first := f.client.State().Inventory
	require.NoError(t, f.client.Refresh(context.Background()))
	second := f.client.State().Inventory

	assert.Equal(t, first, second)
}

func TestClient_RentabilityRule(t *testing.T) {
	f := newFixture(t)
	held := f.ledger.SeedBook("held", 3)
	f.ledger.SeedBook("empty", 0)
	f.ledger.SeedBook("free", 1)
	heldEmpty := f.ledger.SeedBook("held-empty", 0)
	f.ledger.SeedBorrowed(userAddress, held)
	f.ledger.SeedBorrowed(userAddress, heldEmpty)
	f.connect()

	s := f.client.State()
	require.Len(t, s.Inventory.All, 4)
	for _, b := range s.Inventory.All {
		borrowed := f.ledger.IsBorrowed(userAddress, b.ID)
		assert.Equal(t, !borrowed && b.Copies > 0, b.Rentable, b.Name)
	}
	assert.Len(t, s.Inventory.Available, 1)
	assert.Len(t, s.Inventory.Rented, 2)
}

func TestClient_AdminFlag(t *testing.T) {
	f := newFixture(t, asAccount(adminAddress))
	f.connect()
	assert.True(t, f.client.State().IsAdmin)
}

func TestClient_AddBook(t *testing.T) {
	f := newFixture(t, asAccount(adminAddress))
	f.connect()

	out := f.client.AddBook(context.Background(), "  Dune  ", 3)
	require.True(t, out.Confirmed(), "outcome: %+v", out)

	s := f.client.State()
	require.Len(t, s.Inventory.All, 1)
	assert.Equal(t, "Dune", s.Inventory.All[0].Name)
	assert.Equal(t, uint64(3), s.Inventory.All[0].Copies)
	assert.Equal(t, memledger.BookIDFor("Dune"), s.Inventory.All[0].ID)
}

func TestClient_AddBookValidationNeverReachesLedger(t *testing.T) {
	f := newFixture(t, asAccount(adminAddress))
	f.ledger.SeedBook("Dune", 1)
	f.connect()

	tests := []struct {
		name    string
		book    string
		copies  int64
		code    string
		message string
	}{
		{"empty name", "", 1, bookledger.ErrCodeInvalidBookName, bookledger.MsgEmptyBookName},
		{"blank name", "   ", 1, bookledger.ErrCodeInvalidBookName, bookledger.MsgEmptyBookName},
		{"zero copies", "Emma", 0, bookledger.ErrCodeInvalidCopies, bookledger.MsgInvalidCopies},
		{"negative copies", "Emma", -2, bookledger.ErrCodeInvalidCopies, bookledger.MsgInvalidCopies},
		{"duplicate", "Dune", 1, bookledger.ErrCodeDuplicateBook, bookledger.MsgDuplicateBook},
		{"duplicate after trim", " Dune ", 1, bookledger.ErrCodeDuplicateBook, bookledger.MsgDuplicateBook},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes := f.ledger.Writes()
			out := f.client.AddBook(context.Background(), tt.book, tt.copies)

			assert.Equal(t, bookledger.OutcomeRejected, out.Kind)
			assert.Equal(t, tt.code, bookledger.ErrorCode(out.Err))
			assert.Equal(t, tt.message, f.client.State().Error)
			assert.Equal(t, writes, f.ledger.Writes())
			assert.False(t, f.client.State().Fetching)
		})
	}
}

func TestClient_SubmitFormUsesDraft(t *testing.T) {
	f := newFixture(t, asAccount(adminAddress))
	f.connect()

	f.client.UpdateForm(bookledger.FormDraft{BookName: "Emma", BookCopies: 2})
	out := f.client.SubmitForm(context.Background())
	require.True(t, out.Confirmed())

	assert.Equal(t, "Emma", f.client.State().Form.BookName, "draft is kept")
	f.client.ResetForm()
	assert.Equal(t, bookledger.FormDraft{}, f.client.State().Form)
}

func TestClient_InvalidBookID(t *testing.T) {
	f := newFixture(t)
	f.connect()

	out := f.client.Borrow(context.Background(), "not-hex")
	assert.Equal(t, bookledger.ErrCodeInvalidBookID, bookledger.ErrorCode(out.Err))
	assert.Equal(t, 0, f.ledger.Writes())
}

func TestClient_ActionsRequireSession(t *testing.T) {
	f := newFixture(t)
	id := f.ledger.SeedBook("b1", 1)
	ctx := context.Background()

	for _, out := range []bookledger.Outcome{
		f.client.AddBook(ctx, "x", 1),
		f.client.Borrow(ctx, id),
		f.client.Return(ctx, id),
		f.client.Approve(ctx, big.NewInt(1)),
		f.client.Withdraw(ctx, big.NewInt(1)),
	} {
		assert.Equal(t, bookledger.OutcomeRejected, out.Kind)
		assert.ErrorIs(t, out.Err, bookledger.ErrNotConnected)
	}
	assert.ErrorIs(t, f.client.Refresh(ctx), bookledger.ErrNotConnected)
	assert.Equal(t, 0, f.ledger.Writes())
}

func TestClient_SubmissionErrorIsShown(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()

	f.ledger.RejectWrites(assert.AnError)
	out := f.client.Borrow(context.Background(), b1)

	assert.Equal(t, bookledger.OutcomeRejected, out.Kind)
	assert.Equal(t, bookledger.ErrCodeSubmissionFailed, bookledger.ErrorCode(out.Err))
	assert.NotEmpty(t, f.client.State().Error)
	assert.False(t, f.client.State().Fetching)
}

func TestClient_RefreshClearsError(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.ledger.SeedBorrowed(userAddress, b1)
	f.connect()

	f.ledger.RevertNext(bookledger.ActionReturn)
	f.client.Return(context.Background(), b1)
	require.Equal(t, bookledger.MsgFailedTransaction, f.client.State().Error)

	require.NoError(t, f.client.Refresh(context.Background()))
	assert.Empty(t, f.client.State().Error)
}

func TestClient_ReconcileFailureKeepsPreviousView(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 2)
	f.connect()
	before := f.client.State().Inventory

	f.ledger.FailReadsAfter(2)
	err := f.client.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, bookledger.ErrCodeReconcileFailed, bookledger.ErrorCode(err))
	assert.ErrorIs(t, err, memledger.ErrReadFailed)

	s := f.client.State()
	assert.NotEmpty(t, s.ReconcileErr)
	assert.Equal(t, before, s.Inventory)

	f.ledger.FailReadsAfter(-1)
	require.NoError(t, f.client.Refresh(context.Background()))
	assert.Empty(t, f.client.State().ReconcileErr)
	assert.Equal(t, []bookledger.BookID{b1}, ids(f.client.State().Inventory.Available))
}

func TestClient_PartialRefreshes(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	b2 := f.ledger.SeedBook("b2", 1)
	f.ledger.SeedBorrowed(userAddress, b2)
	f.connect()

	available, err := f.client.RefreshAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bookledger.BookID{b1}, ids(available))

	rented, err := f.client.RefreshRented(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bookledger.BookID{b2}, ids(rented))
}

func TestClient_MetricsObserveOutcomes(t *testing.T) {
	metrics := newRecordingMetrics()
	f := newFixture(t, withClientOptions(bookledger.WithMetrics(metrics)))
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()
	assert.True(t, metrics.isConnected())

	f.client.Borrow(context.Background(), b1)
	f.ledger.RevertNext(bookledger.ActionReturn)
	f.client.Return(context.Background(), b1)

	assert.Equal(t, 1, metrics.count(bookledger.OutcomeConfirmed))
	assert.Equal(t, 1, metrics.count(bookledger.OutcomeFailed))

	require.NoError(t, f.client.Disconnect(context.Background()))
	assert.False(t, metrics.isConnected())
}

func TestClient_OrchestratorHooks(t *testing.T) {
	var confirmed []bookledger.Action
	f := newFixture(t, withClientOptions(bookledger.WithOrchestratorOptions(
		bookledger.WithAfterConfirmHook(func(c bookledger.ConfirmedContext) error {
			confirmed = append(confirmed, c.Action)
			return nil
		}),
	)))
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()

	require.True(t, f.client.Borrow(context.Background(), b1).Confirmed())
	assert.Equal(t, []bookledger.Action{bookledger.ActionBorrow}, confirmed)
}
