package connectors

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
	signerevm "github.com/bookledger/bookledger/signers/evm"
)

const testKey = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type fakeBackend struct {
	mu       sync.Mutex
	chainID  *big.Int
	chainErr error
	closed   int
}

func newFakeBackend(chainID int64) *fakeBackend {
	return &fakeBackend{chainID: big.NewInt(chainID)}
}

func (b *fakeBackend) setChain(chainID int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chainID = big.NewInt(chainID)
	b.chainErr = err
}

func (b *fakeBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chainErr != nil {
		return nil, b.chainErr
	}
	return new(big.Int).Set(b.chainID), nil
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not implemented")
}

func newTestKey() (*signerevm.PrivateKey, error) {
	return signerevm.NewPrivateKey(testKey)
}

func accountFor(address string) accounts.Account {
	return accounts.Account{Address: common.HexToAddress(address)}
}

func dialerFor(b *fakeBackend) Dialer {
	return func(ctx context.Context, rpcURL string) (Backend, error) {
		return b, nil
	}
}

func testKeyAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey[2:])
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func waitEvent(t *testing.T, ch <-chan bookledger.ProviderEvent) bookledger.ProviderEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for provider event")
		return bookledger.ProviderEvent{}
	}
}

func TestPrivateKeyConnector_Connect(t *testing.T) {
	backend := newFakeBackend(3)
	c := NewPrivateKeyConnector("http://localhost:8545", testKey, WithChainPollInterval(0)).WithDialer(dialerFor(backend))
	assert.Equal(t, NamePrivateKey, c.Name())

	p, err := c.Connect(context.Background())
	require.NoError(t, err)
	defer p.Close()

	accounts, err := p.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testKeyAddress(t)}, accounts)

	chainID, err := p.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), chainID.Int64())

	_, ok := p.(*Provider)
	assert.True(t, ok)
}

func TestPrivateKeyConnector_Failures(t *testing.T) {
	t.Run("invalid key", func(t *testing.T) {
		c := NewPrivateKeyConnector("http://localhost:8545", "0xnothex").WithDialer(dialerFor(newFakeBackend(3)))
		p, err := c.Connect(context.Background())
		assert.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("dial error", func(t *testing.T) {
		c := NewPrivateKeyConnector("http://localhost:8545", testKey).WithDialer(func(ctx context.Context, rpcURL string) (Backend, error) {
			return nil, errors.New("connection refused")
		})
		p, err := c.Connect(context.Background())
		assert.ErrorContains(t, err, "connection refused")
		assert.Nil(t, p)
	})

	t.Run("chain id error closes backend", func(t *testing.T) {
		backend := newFakeBackend(3)
		backend.setChain(3, errors.New("rpc down"))
		c := NewPrivateKeyConnector("http://localhost:8545", testKey).WithDialer(dialerFor(backend))
		p, err := c.Connect(context.Background())
		assert.ErrorContains(t, err, "rpc down")
		assert.Nil(t, p)
		assert.Equal(t, 1, backend.closeCount())
	})
}

func TestProvider_NetworkChange(t *testing.T) {
	backend := newFakeBackend(3)
	key, err := newTestKey()
	require.NoError(t, err)

	p, err := NewProvider(context.Background(), backend, key, WithChainPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Close()

	events := make(chan bookledger.ProviderEvent, 4)
	p.On(bookledger.ProviderNetworkChanged, func(ev bookledger.ProviderEvent) { events <- ev })

	backend.setChain(5, nil)
	ev := waitEvent(t, events)
	assert.Equal(t, int64(5), ev.ChainID.Int64())

	chainID, err := p.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), chainID.Int64())
}

func TestProvider_PollErrorEmitsError(t *testing.T) {
	backend := newFakeBackend(3)
	key, err := newTestKey()
	require.NoError(t, err)

	p, err := NewProvider(context.Background(), backend, key, WithChainPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Close()

	events := make(chan bookledger.ProviderEvent, 4)
	p.On(bookledger.ProviderError, func(ev bookledger.ProviderEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	backend.setChain(3, errors.New("rpc down"))
	ev := waitEvent(t, events)
	assert.ErrorContains(t, ev.Err, "rpc down")
}

func TestProvider_Unsubscribe(t *testing.T) {
	key, err := newTestKey()
	require.NoError(t, err)
	p, err := NewProvider(context.Background(), newFakeBackend(3), key, WithChainPollInterval(0))
	require.NoError(t, err)
	defer p.Close()

	calls := 0
	unsubscribe := p.On(bookledger.ProviderAccountsChanged, func(bookledger.ProviderEvent) { calls++ })
	p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderAccountsChanged})
	unsubscribe()
	p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderAccountsChanged})
	assert.Equal(t, 1, calls)
}

func TestProvider_CloseFromHandler(t *testing.T) {
	backend := newFakeBackend(3)
	key, err := newTestKey()
	require.NoError(t, err)
	p, err := NewProvider(context.Background(), backend, key, WithChainPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	done := make(chan struct{})
	var once sync.Once
	p.On(bookledger.ProviderNetworkChanged, func(bookledger.ProviderEvent) {
		_ = p.Close()
		once.Do(func() { close(done) })
	})
	backend.setChain(4, nil)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not run")
	}
	require.NoError(t, p.Close())
	assert.Equal(t, 1, backend.closeCount())
}

func TestProvider_DropAccounts(t *testing.T) {
	key, err := newTestKey()
	require.NoError(t, err)
	p, err := NewProvider(context.Background(), newFakeBackend(3), key, WithChainPollInterval(0))
	require.NoError(t, err)
	defer p.Close()

	var got []string
	p.On(bookledger.ProviderAccountsChanged, func(ev bookledger.ProviderEvent) { got = ev.Accounts })
	p.dropAccounts()

	assert.NotNil(t, got)
	assert.Empty(t, got)
	accounts, err := p.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func newKeystoreAccount(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.NewAccount("secret")
	require.NoError(t, err)
	return dir, account.Address.Hex()
}

func TestKeystoreConnector_Connect(t *testing.T) {
	dir, address := newKeystoreAccount(t)
	backend := newFakeBackend(3)
	c := NewKeystoreConnector("http://localhost:8545", dir, "", "secret", WithChainPollInterval(0)).WithDialer(dialerFor(backend))
	assert.Equal(t, NameKeystore, c.Name())

	p, err := c.Connect(context.Background())
	require.NoError(t, err)
	defer p.Close()

	accounts, err := p.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{address}, accounts)
	assert.Equal(t, address, c.CacheValue(p))
}

func TestKeystoreConnector_Failures(t *testing.T) {
	dir, _ := newKeystoreAccount(t)

	t.Run("wrong passphrase", func(t *testing.T) {
		c := NewKeystoreConnector("http://localhost:8545", dir, "", "wrong").WithDialer(dialerFor(newFakeBackend(3)))
		p, err := c.Connect(context.Background())
		assert.ErrorContains(t, err, "failed to unlock")
		assert.Nil(t, p)
	})

	t.Run("restored account missing", func(t *testing.T) {
		c := NewKeystoreConnector("http://localhost:8545", dir, "", "secret").WithDialer(dialerFor(newFakeBackend(3)))
		c.RestoreCache("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
		p, err := c.Connect(context.Background())
		assert.ErrorContains(t, err, "not found")
		assert.Nil(t, p)
	})

	t.Run("empty keystore", func(t *testing.T) {
		c := NewKeystoreConnector("http://localhost:8545", t.TempDir(), "", "secret").WithDialer(dialerFor(newFakeBackend(3)))
		_, err := c.Connect(context.Background())
		assert.ErrorContains(t, err, "no accounts")
	})
}

func TestKeystoreConnector_WalletDropped(t *testing.T) {
	dir, address := newKeystoreAccount(t)
	c := NewKeystoreConnector("http://localhost:8545", dir, address, "secret", WithChainPollInterval(0)).WithDialer(dialerFor(newFakeBackend(3)))

	p, err := c.Connect(context.Background())
	require.NoError(t, err)
	defer p.Close()

	events := make(chan bookledger.ProviderEvent, 1)
	p.(*Provider).On(bookledger.ProviderAccountsChanged, func(ev bookledger.ProviderEvent) { events <- ev })

	ks := c.keystore()
	account, err := ks.Find(accountFor(address))
	require.NoError(t, err)
	require.NoError(t, ks.Delete(account, "secret"))

	ev := waitEvent(t, events)
	assert.Empty(t, ev.Accounts)
	accounts, err := p.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
