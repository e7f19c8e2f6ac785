package bookledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/test/mocks/memledger"
)

func subscribe(t *testing.T, f *fixture) chan bookledger.Notification {
	t.Helper()
	ch := make(chan bookledger.Notification, 64)
	sub := f.client.Notifications(ch)
	t.Cleanup(sub.Unsubscribe)
	return ch
}

func waitFor(t *testing.T, ch <-chan bookledger.Notification, kind string) bookledger.Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", kind)
			return bookledger.Notification{}
		}
	}
}

func mine(t *testing.T, tx bookledger.TransactionHandle, err error) {
	t.Helper()
	require.NoError(t, err)
	receipt, err := tx.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())
}

func TestRelay_OwnTransactionIsNotExternal(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()
	ch := subscribe(t, f)

	out := f.client.Borrow(context.Background(), b1)
	require.True(t, out.Confirmed())

	n := waitFor(t, ch, string(bookledger.EventBookBorrowed))
	assert.False(t, n.External)
	require.NotNil(t, n.Event)
	assert.Equal(t, out.Hash, n.Event.TxHash)
	assert.Equal(t, b1, n.Event.BookID)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Time.IsZero())
}

func TestRelay_ExternalEventTriggersReconcile(t *testing.T) {
	f := newFixture(t)
	f.connect()
	ch := subscribe(t, f)
	require.Empty(t, f.client.State().Inventory.All)

	tx, err := f.ledger.As(adminAddress).AddBook(context.Background(), "Dune", 2)
	mine(t, tx, err)

	n := waitFor(t, ch, string(bookledger.EventBookAdded))
	assert.True(t, n.External)
	assert.Contains(t, n.Message, "Dune")

	assert.Eventually(t, func() bool {
		return len(f.client.State().Inventory.Available) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_ExternalPaymentRefreshesAllowance(t *testing.T) {
	f := newFixture(t, withToken())
	b1 := f.ledger.SeedBook("b1", 3)
	f.ledger.Mint(otherAddress, big.NewInt(4))
	f.connect()
	ch := subscribe(t, f)

	approve, err := f.ledger.TokenAs(otherAddress).Approve(context.Background(), memledger.LibraryAddress, big.NewInt(1))
	mine(t, approve, err)
	borrow, err := f.ledger.As(otherAddress).BorrowBook(context.Background(), b1)
	mine(t, borrow, err)

	n := waitFor(t, ch, string(bookledger.EventTokenTransfer))
	assert.True(t, n.External)
	assert.Equal(t, int64(1), n.Event.Amount.Int64())

	assert.Eventually(t, func() bool {
		return f.client.State().Allowance.LedgerBalance.Int64() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.client.State().Inventory.Rented, "another account's rental")
}

func TestRelay_WalletNotifications(t *testing.T) {
	f := newFixture(t)
	f.connect()
	ch := subscribe(t, f)
	provider := f.connector.Last()

	provider.SwitchChain(big.NewInt(5))
	n := waitFor(t, ch, string(bookledger.ProviderNetworkChanged))
	assert.Contains(t, n.Message, "5")

	provider.SwitchAccounts(otherAddress)
	n = waitFor(t, ch, string(bookledger.ProviderAccountsChanged))
	assert.Contains(t, n.Message, otherAddress)
}

func TestRelay_SilentAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	f.connect()
	ch := subscribe(t, f)
	require.NoError(t, f.client.Disconnect(context.Background()))

	tx, err := f.ledger.As(adminAddress).AddBook(context.Background(), "Emma", 1)
	mine(t, tx, err)

	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, f.client.State().Inventory.All)
}

func TestRelay_SubscribeRequiresSession(t *testing.T) {
	relay := bookledger.NewRelay(bookledger.NewTxCache(time.Minute), nil, nil)
	err := relay.Subscribe(context.Background(), nil, bookledger.RelayCallbacks{})
	assert.ErrorIs(t, err, bookledger.ErrNotConnected)
	assert.Equal(t, bookledger.RelayUnsubscribed, relay.State())
	assert.Equal(t, "unsubscribed", relay.State().String())
	assert.Equal(t, "subscribed", bookledger.RelaySubscribed.String())

	relay.Unsubscribe()
}

func TestRelay_StalledSubscriberDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()
	stalled := f.client.Notifications(make(chan bookledger.Notification))
	ch := subscribe(t, f)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < bookledger.NotificationBuffer; i++ {
			if out := f.client.Borrow(context.Background(), b1); !out.Confirmed() {
				t.Errorf("borrow %d: %v", i, out.Err)
				return
			}
			if out := f.client.Return(context.Background(), b1); !out.Confirmed() {
				t.Errorf("return %d: %v", i, out.Err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transactions blocked behind a subscriber that never reads")
	}
	assert.False(t, f.client.State().Fetching)
	waitFor(t, ch, string(bookledger.EventBookReturned))

	unsubscribed := make(chan struct{})
	go func() {
		stalled.Unsubscribe()
		close(unsubscribed)
	}()
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("unsubscribing a stalled subscriber hangs")
	}
	require.NoError(t, f.client.Disconnect(context.Background()))
}
