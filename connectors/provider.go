// Package connectors turns RPC endpoints and local keys into wallet providers.
package connectors

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/contracts"
	signerevm "github.com/bookledger/bookledger/signers/evm"
)

// DefaultChainPollInterval is how often a provider re-reads the chain id.
const DefaultChainPollInterval = 4 * time.Second

// Backend is an RPC connection. *ethclient.Client satisfies it.
type Backend interface {
	signerevm.ChainBackend
	Close()
}

// Dialer opens a Backend for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// DialRPC dials rpcURL with go-ethereum's client.
func DialRPC(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Provider is a wallet provider signing with a local key over an RPC backend.
// It watches the chain id and emits networkChanged when it moves.
type Provider struct {
	backend Backend
	signer  *signerevm.Signer

	mu       sync.Mutex
	accounts []string
	chainID  *big.Int
	handlers map[bookledger.ProviderEventKind]map[int]func(bookledger.ProviderEvent)
	nextID   int

	quit      chan struct{}
	closeOnce sync.Once
}

var (
	_ bookledger.Provider            = (*Provider)(nil)
	_ bookledger.ProviderEventSource = (*Provider)(nil)
	_ contracts.SignerSource         = (*Provider)(nil)
)

// ProviderOption configures a Provider
type ProviderOption func(*providerConfig)

type providerConfig struct {
	pollInterval time.Duration
	signerOpts   []signerevm.Option
}

// WithChainPollInterval sets how often the chain id is re-read. Zero disables polling.
func WithChainPollInterval(d time.Duration) ProviderOption {
	return func(c *providerConfig) {
		c.pollInterval = d
	}
}

// WithSignerOptions passes options to the transaction signer.
func WithSignerOptions(opts ...signerevm.Option) ProviderOption {
	return func(c *providerConfig) {
		c.signerOpts = append(c.signerOpts, opts...)
	}
}

// NewProvider reads the chain id and starts watching it.
func NewProvider(ctx context.Context, backend Backend, key signerevm.TxKey, opts ...ProviderOption) (*Provider, error) {
	cfg := providerConfig{pollInterval: DefaultChainPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	signer := signerevm.NewSigner(backend, key, cfg.signerOpts...)
	chainID, err := signer.RefreshChainID(ctx)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		backend:  backend,
		signer:   signer,
		chainID:  chainID,
		handlers: make(map[bookledger.ProviderEventKind]map[int]func(bookledger.ProviderEvent)),
		quit:     make(chan struct{}),
	}
	if address := signer.Address(); address != "" {
		p.accounts = []string{address}
	}
	if cfg.pollInterval > 0 {
		go p.watchChain(cfg.pollInterval)
	}
	return p, nil
}

// TxSigner returns the signer the ledger bindings use.
func (p *Provider) TxSigner() contracts.Backend {
	return p.signer
}

func (p *Provider) Accounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.accounts...), nil
}

func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.signer.GetChainID(ctx)
}

// Close stops the chain watcher and closes the RPC connection. It does not
// wait for in-flight handlers, which may themselves call Close.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.backend.Close()
	})
	return nil
}

func (p *Provider) On(kind bookledger.ProviderEventKind, handler func(bookledger.ProviderEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[kind] == nil {
		p.handlers[kind] = make(map[int]func(bookledger.ProviderEvent))
	}
	id := p.nextID
	p.nextID++
	p.handlers[kind][id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[kind], id)
	}
}

func (p *Provider) emit(ev bookledger.ProviderEvent) {
	p.mu.Lock()
	hs := make([]func(bookledger.ProviderEvent), 0, len(p.handlers[ev.Kind]))
	for _, h := range p.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// dropAccounts clears the account list and emits accountsChanged with no accounts.
func (p *Provider) dropAccounts() {
	p.mu.Lock()
	p.accounts = nil
	p.mu.Unlock()
	p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderAccountsChanged, Accounts: []string{}})
}

func (p *Provider) watchChain(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.pollChain(interval)
		}
	}
}

func (p *Provider) pollChain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	chainID, err := p.signer.RefreshChainID(ctx)
	select {
	case <-p.quit:
		return
	default:
	}
	if err != nil {
		p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderError, Err: err})
		return
	}

	p.mu.Lock()
	changed := p.chainID.Cmp(chainID) != 0
	p.chainID = chainID
	p.mu.Unlock()
	if changed {
		p.emit(bookledger.ProviderEvent{Kind: bookledger.ProviderNetworkChanged, ChainID: chainID})
	}
}
