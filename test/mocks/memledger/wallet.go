package memledger

import (
	"context"
	"errors"
	"math/big"
	"sync"

	bookledger "github.com/bookledger/bookledger"
)

// ErrProviderClosed is returned by a closed provider.
var ErrProviderClosed = errors.New("memledger: provider closed")

// Provider is an in-memory wallet provider. Events are delivered
// synchronously by Emit and the Switch helpers.
type Provider struct {
	mu       sync.Mutex
	accounts []string
	chainID  *big.Int
	closed   bool
	handlers map[bookledger.ProviderEventKind]map[int]func(bookledger.ProviderEvent)
	nextID   int
	// sticky providers return a nil unsubscribe from On.
	sticky bool
}

// NewProvider creates a provider exposing accounts on chainID.
func NewProvider(accounts []string, chainID *big.Int) *Provider {
	return &Provider{
		accounts: append([]string(nil), accounts...),
		chainID:  new(big.Int).Set(chainID),
		handlers: make(map[bookledger.ProviderEventKind]map[int]func(bookledger.ProviderEvent)),
	}
}

func (p *Provider) Accounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	return append([]string(nil), p.accounts...), nil
}

func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	return new(big.Int).Set(p.chainID), nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
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
	if p.sticky {
		return nil
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[kind], id)
	}
}

// Handlers returns the number of registered handlers.
func (p *Provider) Handlers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hs := range p.handlers {
		n += len(hs)
	}
	return n
}

// Emit calls every handler registered for ev.Kind.
func (p *Provider) Emit(ev bookledger.ProviderEvent) {
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

// SwitchAccounts changes the exposed accounts and emits accountsChanged.
func (p *Provider) SwitchAccounts(accounts ...string) {
	p.mu.Lock()
	p.accounts = append([]string(nil), accounts...)
	p.mu.Unlock()
	p.Emit(bookledger.ProviderEvent{Kind: bookledger.ProviderAccountsChanged, Accounts: accounts})
}

// SwitchChain changes the chain and emits networkChanged.
func (p *Provider) SwitchChain(chainID *big.Int) {
	p.mu.Lock()
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()
	p.Emit(bookledger.ProviderEvent{Kind: bookledger.ProviderNetworkChanged, ChainID: chainID})
}

// silent wraps a provider so it does not satisfy ProviderEventSource.
type silent struct {
	p *Provider
}

func (s silent) Accounts(ctx context.Context) ([]string, error) { return s.p.Accounts(ctx) }
func (s silent) ChainID(ctx context.Context) (*big.Int, error) { return s.p.ChainID(ctx) }
func (s silent) Close() error { return s.p.Close() }

// ============================================================================
// Connector
// ============================================================================

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithoutEvents makes connected providers not emit wallet events.
func WithoutEvents() ConnectorOption {
	return func(c *Connector) { c.silent = true }
}

// WithStickyHandlers makes connected providers unable to de-register handlers.
func WithStickyHandlers() ConnectorOption {
	return func(c *Connector) { c.sticky = true }
}

// WithCacheValue makes the connector persist value with the cached provider.
func WithCacheValue(value string) ConnectorOption {
	return func(c *Connector) { c.cacheValue = value }
}

// Connector hands out providers over one account and chain.
type Connector struct {
	name       string
	accounts   []string
	chainID    *big.Int
	silent     bool
	sticky     bool
	cacheValue string

	mu       sync.Mutex
	err      error
	connects int
	last     *Provider
}

// NewConnector creates a connector named name. An empty accounts list models
// a locked wallet.
func NewConnector(name string, chainID int64, accounts []string, opts ...ConnectorOption) *Connector {
	c := &Connector{name: name, accounts: accounts, chainID: big.NewInt(chainID)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string {
	return c.name
}

func (c *Connector) Connect(ctx context.Context) (bookledger.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.err != nil {
		return nil, c.err
	}
	p := NewProvider(c.accounts, c.chainID)
	p.sticky = c.sticky
	c.last = p
	if c.silent {
		return silent{p: p}, nil
	}
	return p, nil
}

// CacheValue implements bookledger.ConnectorCacher.
func (c *Connector) CacheValue(bookledger.Provider) string {
	return c.cacheValue
}

// FailWith makes Connect return err. A nil err clears it.
func (c *Connector) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Connects returns the number of Connect calls.
func (c *Connector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Last returns the most recently connected provider.
func (c *Connector) Last() *Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
