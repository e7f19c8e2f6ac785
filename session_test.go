package bookledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/test/mocks/memledger"
)

func TestSession_ConnectPersistsCachedProvider(t *testing.T) {
	f := newFixture(t, withConnectorOptions(memledger.WithCacheValue(`{"rpc":"local"}`)))
	sess := f.connect()

	assert.Equal(t, "injected", sess.ConnectorName)
	assert.Equal(t, "injected", f.prefs.cached.CachedProvider)
	assert.Equal(t, `{"rpc":"local"}`, f.prefs.cached.ConnectorCache)
	assert.Equal(t, bookledger.RelaySubscribed, f.client.RelayState())
	assert.Equal(t, []string{"injected"}, f.client.Connectors())
	assert.Same(t, sess, f.client.Session())
}

func TestSession_DisconnectResetsEverything(t *testing.T) {
	f := newFixture(t, withToken())
	b1 := f.ledger.SeedBook("b1", 1)
	f.ledger.Mint(userAddress, big.NewInt(5))
	f.connect()
	provider := f.connector.Last()
	require.Equal(t, 2, f.ledger.Watchers())
	require.Equal(t, 4, provider.Handlers())

	f.client.UpdateForm(bookledger.FormDraft{BookName: "draft", BookCopies: 1})
	require.True(t, f.client.Approve(context.Background(), big.NewInt(1)).Confirmed())
	require.True(t, f.client.Borrow(context.Background(), b1).Confirmed())

	require.NoError(t, f.client.Disconnect(context.Background()))

	s := f.client.State()
	initial := bookledger.InitialState()
	assert.Equal(t, initial.Address, s.Address)
	assert.Equal(t, initial.ChainID, s.ChainID)
	assert.False(t, s.Connected)
	assert.False(t, s.Fetching)
	assert.False(t, s.IsAdmin)
	assert.Empty(t, s.Error)
	assert.Equal(t, initial.Inventory, s.Inventory)
	assert.Equal(t, initial.Allowance, s.Allowance)
	assert.Equal(t, bookledger.FormDraft{}, s.Form)

	assert.Nil(t, f.client.Session())
	assert.True(t, provider.Closed())
	assert.True(t, f.prefs.cached.Empty())
	assert.Equal(t, bookledger.RelayUnsubscribed, f.client.RelayState())
	assert.Equal(t, 0, f.ledger.Watchers())
	assert.Equal(t, 0, provider.Handlers())
}

func TestSession_DisconnectWhenIdle(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.client.Disconnect(context.Background()))
	assert.NoError(t, f.client.Disconnect(context.Background()))
	assert.Equal(t, bookledger.InitialState().Inventory, f.client.State().Inventory)
}

func TestSession_ReconnectDoesNotLeakSubscriptions(t *testing.T) {
	f := newFixture(t, withToken())
	for i := 0; i < 3; i++ {
		f.connect()
		assert.Equal(t, 2, f.ledger.Watchers())
		assert.Equal(t, 4, f.connector.Last().Handlers())
		require.NoError(t, f.client.Disconnect(context.Background()))
		assert.Equal(t, 0, f.ledger.Watchers())
	}
}

func TestSession_Resume(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Resume(context.Background())
	assert.ErrorIs(t, err, bookledger.ErrNoCachedProvider)
	assert.Equal(t, 0, f.connector.Connects())

	f.prefs.cached = bookledger.CachedSession{CachedProvider: "injected"}
	sess, err := f.client.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.Connected)
	assert.Equal(t, 1, f.connector.Connects())
}

func TestSession_CloseKeepsCachedProvider(t *testing.T) {
	f := newFixture(t)
	f.connect()
	provider := f.connector.Last()

	require.NoError(t, f.client.Close(context.Background()))
	assert.True(t, provider.Closed())
	assert.False(t, f.client.State().Connected)
	assert.Equal(t, bookledger.RelayUnsubscribed, f.client.RelayState())
	assert.Equal(t, "injected", f.prefs.cached.CachedProvider)
}

func TestSession_ResumeLoadError(t *testing.T) {
	f := newFixture(t)
	f.prefs.loadErr = errors.New("corrupt file")
	_, err := f.client.Resume(context.Background())
	assert.ErrorContains(t, err, "corrupt file")
}

func TestSession_ConnectFailures(t *testing.T) {
	t.Run("unknown connector", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.client.Connect(context.Background(), "walletconnect")
		assert.Equal(t, bookledger.ErrCodeConnectFailed, bookledger.ErrorCode(err))
		assert.False(t, f.client.State().Connected)
		assert.NotEmpty(t, f.client.State().Error)
	})

	t.Run("connector error", func(t *testing.T) {
		f := newFixture(t)
		f.connector.FailWith(errors.New("user rejected request"))
		_, err := f.client.Connect(context.Background(), "injected")
		assert.Equal(t, bookledger.ErrCodeConnectFailed, bookledger.ErrorCode(err))
		assert.Nil(t, f.client.Session())
		assert.Equal(t, 0, f.prefs.saves)
	})

	t.Run("locked wallet", func(t *testing.T) {
		f := newFixture(t, asAccount(""))
		_, err := f.client.Connect(context.Background(), "injected")
		require.Error(t, err)
		assert.True(t, f.connector.Last().Closed(), "provider is released")
		assert.Equal(t, bookledger.RelayUnsubscribed, f.client.RelayState())
	})
}

func TestSession_InvalidAddressesFailBeforeConnecting(t *testing.T) {
	ledger := memledger.New(adminAddress, nil)
	connector := memledger.NewConnector("injected", 3, []string{userAddress})
	client := bookledger.NewClient(bookledger.Config{LibraryAddress: "0x1234"}, ledger.Binder(),
		bookledger.WithConnector(connector))
	defer client.Close(context.Background())

	_, err := client.Connect(context.Background(), "injected")
	assert.Equal(t, bookledger.ErrCodeInvalidAddress, bookledger.ErrorCode(err))
	assert.Equal(t, 0, connector.Connects())
}

func TestSession_AccountChangeRescans(t *testing.T) {
	f := newFixture(t)
	b1 := f.ledger.SeedBook("b1", 1)
	f.ledger.SeedBorrowed(userAddress, b1)
	first := f.connect()
	require.Len(t, f.client.State().Inventory.Rented, 1)

	f.connector.Last().SwitchAccounts(otherAddress)

	next := f.client.Session()
	require.NotNil(t, next)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, first.ConnectionID, next.ConnectionID)

	s := f.client.State()
	assert.Equal(t, otherAddress, s.Address)
	assert.Empty(t, s.Inventory.Rented)
	assert.Equal(t, []bookledger.BookID{b1}, ids(s.Inventory.Available))
}

func TestSession_AccountChangeToSameAddressRescans(t *testing.T) {
	f := newFixture(t)
	first := f.connect()
	require.Empty(t, f.client.State().Inventory.All)

	b1 := f.ledger.SeedBook("b1", 1)
	require.NoError(t, f.client.OnAccountChanged(context.Background(), []string{userAddress}))

	assert.Same(t, first, f.client.Session())
	assert.Equal(t, []bookledger.BookID{b1}, ids(f.client.State().Inventory.Available))
}

func TestSession_InvalidAccountChange(t *testing.T) {
	f := newFixture(t)
	first := f.connect()
	err := f.client.OnAccountChanged(context.Background(), []string{"nope"})
	assert.Equal(t, bookledger.ErrCodeInvalidAddress, bookledger.ErrorCode(err))
	assert.Same(t, first, f.client.Session())
}

func TestSession_EmptyAccountsDisconnects(t *testing.T) {
	f := newFixture(t)
	f.connect()
	provider := f.connector.Last()

	provider.SwitchAccounts()

	assert.Nil(t, f.client.Session())
	assert.False(t, f.client.State().Connected)
	assert.True(t, provider.Closed())
}

func TestSession_NetworkChange(t *testing.T) {
	f := newFixture(t, onChain(3))
	f.ledger.SeedBook("b1", 1)
	first := f.connect()
	inv := f.client.State().Inventory

	f.connector.Last().SwitchChain(big.NewInt(5))

	next := f.client.Session()
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, int64(5), next.ChainID.Int64())
	assert.Equal(t, int64(5), f.client.State().ChainID.Int64())
	assert.Equal(t, inv, f.client.State().Inventory)
	assert.Equal(t, int64(3), first.ChainID.Int64(), "published sessions are not modified")
}

func TestSession_NetworkChangeWithoutSession(t *testing.T) {
	f := newFixture(t)
	err := f.client.OnNetworkChanged(context.Background(), big.NewInt(5))
	assert.ErrorIs(t, err, bookledger.ErrNotConnected)
}

func TestSession_CloseEventDisconnects(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.connector.Last().Emit(bookledger.ProviderEvent{Kind: bookledger.ProviderClose})

	assert.Nil(t, f.client.Session())
	assert.False(t, f.client.State().Connected)
}

func TestSession_ProviderErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	sess := f.connect()

	f.connector.Last().Emit(bookledger.ProviderEvent{Kind: bookledger.ProviderError, Err: errors.New("rpc hiccup")})

	assert.Same(t, sess, f.client.Session())
}

func TestSession_StickyHandlersAreHarmlessAfterDisconnect(t *testing.T) {
	f := newFixture(t, withConnectorOptions(memledger.WithStickyHandlers()))
	f.connect()
	provider := f.connector.Last()
	require.NoError(t, f.client.Disconnect(context.Background()))

	provider.SwitchAccounts(otherAddress)
	provider.SwitchChain(big.NewInt(5))

	assert.Nil(t, f.client.Session())
	assert.Equal(t, bookledger.InitialState().ChainID, f.client.State().ChainID)
	assert.Empty(t, f.client.State().Address)
}

func TestSession_ProviderWithoutEvents(t *testing.T) {
	f := newFixture(t, withConnectorOptions(memledger.WithoutEvents()))
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()

	assert.Equal(t, bookledger.RelaySubscribed, f.client.RelayState())
	assert.Equal(t, 0, f.connector.Last().Handlers())
	assert.True(t, f.client.Borrow(context.Background(), b1).Confirmed())
}

func TestSession_AccountSwitchDuringTransaction(t *testing.T) {
	var provider *memledger.Provider
	switched := false
	f := newFixture(t, withClientOptions(bookledger.WithOrchestratorOptions(
		bookledger.WithBeforeSubmitHook(func(bookledger.SubmitContext) (*bookledger.BeforeHookResult, error) {
			if !switched {
				switched = true
				provider.SwitchAccounts(otherAddress)
			}
			return nil, nil
		}),
	)))
	b1 := f.ledger.SeedBook("b1", 1)
	f.connect()
	provider = f.connector.Last()

	out := f.client.Borrow(context.Background(), b1)
	require.NotEqual(t, bookledger.OutcomeRejected, out.Kind)

	s := f.client.State()
	assert.Equal(t, otherAddress, s.Address)
	assert.False(t, s.Fetching, "the transaction settles on the replaced session")
	assert.Nil(t, s.Pending)
}
