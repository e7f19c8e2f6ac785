package connectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/event"

	bookledger "github.com/bookledger/bookledger"
	signerevm "github.com/bookledger/bookledger/signers/evm"
)

// Connector names
const (
	NamePrivateKey = "privatekey"
	NameKeystore   = "keystore"
)

// ============================================================================
// Private key connector
// ============================================================================

// PrivateKeyConnector signs with a hex private key.
type PrivateKeyConnector struct {
	rpcURL     string
	privateKey string
	dial       Dialer
	opts       []ProviderOption
}

var _ bookledger.Connector = (*PrivateKeyConnector)(nil)

// NewPrivateKeyConnector creates a connector for rpcURL and privateKey.
func NewPrivateKeyConnector(rpcURL, privateKey string, opts ...ProviderOption) *PrivateKeyConnector {
	return &PrivateKeyConnector{rpcURL: rpcURL, privateKey: privateKey, dial: DialRPC, opts: opts}
}

// WithDialer replaces how the RPC connection is opened.
func (c *PrivateKeyConnector) WithDialer(dial Dialer) *PrivateKeyConnector {
	c.dial = dial
	return c
}

func (c *PrivateKeyConnector) Name() string {
	return NamePrivateKey
}

func (c *PrivateKeyConnector) Connect(ctx context.Context) (bookledger.Provider, error) {
	key, err := signerevm.NewPrivateKey(c.privateKey)
	if err != nil {
		return nil, err
	}
	p, err := connect(ctx, c.dial, c.rpcURL, key, c.opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func connect(ctx context.Context, dial Dialer, rpcURL string, key signerevm.TxKey, opts []ProviderOption) (*Provider, error) {
	backend, err := dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	p, err := NewProvider(ctx, backend, key, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return p, nil
}

// ============================================================================
// Keystore connector
// ============================================================================

// KeystoreConnector signs with an account of an encrypted keystore directory.
// Removing the account file while connected is reported as a wallet lock.
type KeystoreConnector struct {
	rpcURL     string
	dir        string
	passphrase string
	dial       Dialer
	opts       []ProviderOption

	mu      sync.Mutex
	account string
	ks      *keystore.KeyStore
}

var (
	_ bookledger.Connector         = (*KeystoreConnector)(nil)
	_ bookledger.ConnectorCacher   = (*KeystoreConnector)(nil)
	_ bookledger.ConnectorRestorer = (*KeystoreConnector)(nil)
)

// NewKeystoreConnector creates a connector for the keystore in dir. An empty
// account selects the first one.
func NewKeystoreConnector(rpcURL, dir, account, passphrase string, opts ...ProviderOption) *KeystoreConnector {
	return &KeystoreConnector{
		rpcURL:     rpcURL,
		dir:        dir,
		account:    account,
		passphrase: passphrase,
		dial:       DialRPC,
		opts:       opts,
	}
}

// WithDialer replaces how the RPC connection is opened.
func (c *KeystoreConnector) WithDialer(dial Dialer) *KeystoreConnector {
	c.dial = dial
	return c
}

func (c *KeystoreConnector) Name() string {
	return NameKeystore
}

// RestoreCache selects the account for the next Connect.
func (c *KeystoreConnector) RestoreCache(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = address
}

// CacheValue returns the connected account so a resumed session picks it again.
func (c *KeystoreConnector) CacheValue(p bookledger.Provider) string {
	kp, ok := p.(*Provider)
	if !ok {
		return ""
	}
	return kp.signer.Address()
}

func (c *KeystoreConnector) keystore() *keystore.KeyStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ks == nil {
		c.ks = keystore.NewKeyStore(c.dir, keystore.StandardScryptN, keystore.StandardScryptP)
	}
	return c.ks
}

func (c *KeystoreConnector) Connect(ctx context.Context) (bookledger.Provider, error) {
	ks := c.keystore()

	c.mu.Lock()
	address := c.account
	c.mu.Unlock()

	account, err := signerevm.FindAccount(ks, address)
	if err != nil {
		return nil, err
	}
	key, err := signerevm.NewKeystoreKey(ks, account, c.passphrase)
	if err != nil {
		return nil, err
	}

	p, err := connect(ctx, c.dial, c.rpcURL, key, c.opts)
	if err != nil {
		_ = ks.Lock(account.Address)
		return nil, err
	}
	events := make(chan accounts.WalletEvent, 8)
	sub := ks.Subscribe(events)
	go watchWallet(ks, account, p, sub, events)
	return p, nil
}

// watchWallet reports the account's wallet disappearing until p is closed.
func watchWallet(ks *keystore.KeyStore, account accounts.Account, p *Provider, sub event.Subscription, events <-chan accounts.WalletEvent) {
	defer sub.Unsubscribe()
	defer func() {
		_ = ks.Lock(account.Address)
	}()

	for {
		select {
		case <-p.quit:
			return
		case err := <-sub.Err():
			if err != nil {
				p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderError, Err: fmt.Errorf("keystore watch failed: %w", err)})
			}
			return
		case ev := <-events:
			if ev.Kind == accounts.WalletDropped && ev.Wallet.Contains(account) {
				p.dropAccounts()
			}
		}
	}
}
