package bookledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookledger/bookledger/ledger/evm"
	"github.com/bookledger/bookledger/pkg/logger"
)

// Session is the live wallet connection and the bindings derived from it.
// A Session is never modified after it is published; account and network
// changes publish a replacement with a new ID.
type Session struct {
	ID string
	// ConnectionID stays the same across account and network replacements.
	ConnectionID  string
	Address       string
	ChainID       *big.Int
	Connected     bool
	Library       Library
	Token         Token
	Provider      Provider
	ConnectorName string
}

func (s *Session) withAddress(address string) *Session {
	next := *s
	next.ID = uuid.NewString()
	next.Address = address
	return &next
}

func (s *Session) withChainID(chainID *big.Int) *Session {
	next := *s
	next.ID = uuid.NewString()
	next.ChainID = new(big.Int).Set(chainID)
	return &next
}

// SessionConfig holds the ledger addresses a session binds to.
type SessionConfig struct {
	LibraryAddress string
	// TokenAddress enables the payment gate when set.
	TokenAddress string
}

// Validate checks both addresses before any provider is acquired.
func (c SessionConfig) Validate() error {
	if !evm.IsValidAddress(c.LibraryAddress) {
		return NewError(ErrCodeInvalidAddress, "Invalid library address", map[string]interface{}{
			"address": c.LibraryAddress,
		})
	}
	if c.TokenAddress != "" && !evm.IsValidAddress(c.TokenAddress) {
		return NewError(ErrCodeInvalidAddress, "Invalid token address", map[string]interface{}{
			"address": c.TokenAddress,
		})
	}
	return nil
}

// SessionManager owns the wallet connection lifecycle.
type SessionManager struct {
	cfg        SessionConfig
	connectors map[string]Connector
	binder     Binder
	prefs      SessionPrefs
	store      *Store
	relay      *Relay
	sync       func(ctx context.Context, sess *Session) error
	logger     logger.Logger
	metrics    Metrics

	// opMu serializes connect, disconnect and change handling.
	opMu    sync.Mutex
	mu      sync.RWMutex
	current *Session
}

// NewSessionManager wires a manager. syncSession runs the full reconciliation for a session.
func NewSessionManager(
	cfg SessionConfig,
	connectors []Connector,
	binder Binder,
	prefs SessionPrefs,
	store *Store,
	relay *Relay,
	syncSession func(ctx context.Context, sess *Session) error,
	log logger.Logger,
	metrics Metrics,
) *SessionManager {
	if prefs == nil {
		prefs = &memPrefs{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	byName := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
	}
	return &SessionManager{
		cfg:        cfg,
		connectors: byName,
		binder:     binder,
		prefs:      prefs,
		store:      store,
		relay:      relay,
		sync:       syncSession,
		logger:     log,
		metrics:    metrics,
	}
}

// Current returns the live session, or nil.
func (m *SessionManager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connectors returns the registered connector names, sorted.
func (m *SessionManager) Connectors() []string {
	names := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *SessionManager) setCurrent(sess *Session) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
}

// Connect acquires a provider from the named connector, binds the ledgers,
// publishes the session, subscribes the relay and runs one reconciliation.
// Calling Connect while connected is not supported.
func (m *SessionManager) Connect(ctx context.Context, connectorName string) (*Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sess, err := m.establish(ctx, connectorName)
	if err != nil {
		m.store.Apply(setError(UserMessage(err)))
		return nil, err
	}

	m.setCurrent(sess)
	m.store.Apply(sessionStarted(sess))
	m.metrics.SetConnected(true)
	m.logger.Info("session connected",
		zap.String("session", sess.ID),
		zap.String("connector", sess.ConnectorName),
		zap.String("address", sess.Address),
		zap.String("network", evm.NetworkName(sess.ChainID)))

	cached := CachedSession{CachedProvider: connectorName}
	if cacher, ok := m.connectors[connectorName].(ConnectorCacher); ok {
		cached.ConnectorCache = cacher.CacheValue(sess.Provider)
	}
	if err := m.prefs.Save(cached); err != nil {
		m.logger.Warn("failed to persist cached provider", zap.Error(err))
	}

	if err := m.relay.Subscribe(ctx, sess, m.relayCallbacks()); err != nil {
		m.logger.Warn("failed to subscribe to notifications", zap.Error(err))
	}

	if err := m.sync(ctx, sess); err != nil {
		m.logger.Warn("initial reconciliation failed", zap.Error(err))
	}
	return sess, nil
}

// establish runs every step that may fail before a session is published.
// On failure the provider, if acquired, is closed.
func (m *SessionManager) establish(ctx context.Context, connectorName string) (*Session, error) {
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	connector, ok := m.connectors[connectorName]
	if !ok {
		return nil, NewError(ErrCodeConnectFailed, "Unknown wallet connector", map[string]interface{}{
			"connector": connectorName,
		})
	}

	provider, err := connector.Connect(ctx)
	if err != nil {
		return nil, WrapError(ErrCodeConnectFailed, "Wallet connection failed", err, nil)
	}

	sess, err := m.bind(ctx, connectorName, provider)
	if err != nil {
		if closeErr := provider.Close(); closeErr != nil {
			m.logger.Warn("failed to close provider", zap.Error(closeErr))
		}
		return nil, err
	}
	return sess, nil
}

func (m *SessionManager) bind(ctx context.Context, connectorName string, provider Provider) (*Session, error) {
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, WrapError(ErrCodeConnectFailed, "Failed to read network", err, nil)
	}

	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return nil, WrapError(ErrCodeConnectFailed, "Failed to read accounts", err, nil)
	}
	if len(accounts) == 0 {
		return nil, NewError(ErrCodeConnectFailed, "Wallet exposes no accounts", nil)
	}
	if !evm.IsValidAddress(accounts[0]) {
		return nil, NewError(ErrCodeInvalidAddress, "Invalid wallet account", map[string]interface{}{
			"address": accounts[0],
		})
	}

	library, err := m.binder.BindLibrary(provider, m.cfg.LibraryAddress)
	if err != nil {
		return nil, WrapError(ErrCodeConnectFailed, "Failed to bind library", err, nil)
	}

	var token Token
	if m.cfg.TokenAddress != "" {
		token, err = m.binder.BindToken(provider, m.cfg.TokenAddress)
		if err != nil {
			return nil, WrapError(ErrCodeConnectFailed, "Failed to bind token", err, nil)
		}
	}

	id := uuid.NewString()
	return &Session{
		ID:            id,
		ConnectionID:  id,
		Address:       evm.NormalizeAddress(accounts[0]),
		ChainID:       new(big.Int).Set(chainID),
		Connected:     true,
		Library:       library,
		Token:         token,
		Provider:      provider,
		ConnectorName: connectorName,
	}, nil
}

// Resume connects with the cached provider, if any.
func (m *SessionManager) Resume(ctx context.Context) (*Session, error) {
	cached, err := m.prefs.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load cached provider: %w", err)
	}
	if cached.CachedProvider == "" {
		return nil, ErrNoCachedProvider
	}
	if restorer, ok := m.connectors[cached.CachedProvider].(ConnectorRestorer); ok && cached.ConnectorCache != "" {
		restorer.RestoreCache(cached.ConnectorCache)
	}
	return m.Connect(ctx, cached.CachedProvider)
}

// Disconnect unsubscribes every handler, clears the cached provider, closes
// the provider and resets state. It is safe to call when not connected.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.disconnectLocked()
}

// Release ends the session like Disconnect but keeps the cached provider,
// so a later Resume reconnects with the same connector.
func (m *SessionManager) Release(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardownLocked()
}

func (m *SessionManager) disconnectLocked() error {
	var errs []error
	if err := m.prefs.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear cached provider: %w", err))
	}
	m.teardownLocked()
	return errors.Join(errs...)
}

func (m *SessionManager) teardownLocked() {
	m.relay.Unsubscribe()

	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if sess != nil && sess.Provider != nil {
		if err := sess.Provider.Close(); err != nil {
			m.logger.Warn("failed to close provider", zap.Error(err))
		}
	}

	m.store.Apply(resetState())
	m.metrics.SetConnected(false)
	if sess != nil {
		m.logger.Info("session disconnected", zap.String("session", sess.ID))
	}
}

// OnAccountChanged handles a wallet account switch. An empty list is a disconnect.
func (m *SessionManager) OnAccountChanged(ctx context.Context, accounts []string) error {
	m.opMu.Lock()
	if len(accounts) == 0 {
		defer m.opMu.Unlock()
		m.logger.Info("wallet reported no accounts")
		return m.disconnectLocked()
	}

	cur := m.Current()
	if cur == nil {
		m.opMu.Unlock()
		return ErrNotConnected
	}
	if !evm.IsValidAddress(accounts[0]) {
		m.opMu.Unlock()
		err := NewError(ErrCodeInvalidAddress, "Invalid wallet account", map[string]interface{}{
			"address": accounts[0],
		})
		m.store.Apply(setError(err.Message))
		return err
	}
	address := evm.NormalizeAddress(accounts[0])
	if address == cur.Address {
		m.opMu.Unlock()
		return m.sync(ctx, cur)
	}

	next := cur.withAddress(address)
	m.setCurrent(next)
	m.store.Apply(accountReplaced(next))
	m.opMu.Unlock()

	m.logger.Info("account changed", zap.String("address", address))
	return m.sync(ctx, next)
}

// OnNetworkChanged re-reads the chain id from the provider, falling back to
// the event payload. Bindings are kept.
func (m *SessionManager) OnNetworkChanged(ctx context.Context, chainID *big.Int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cur := m.Current()
	if cur == nil {
		return ErrNotConnected
	}

	actual, err := cur.Provider.ChainID(ctx)
	if err != nil {
		m.logger.Warn("failed to re-read chain id", zap.Error(err))
		actual = chainID
	}
	if actual == nil || actual.Cmp(cur.ChainID) == 0 {
		return nil
	}

	next := cur.withChainID(actual)
	m.setCurrent(next)
	m.store.Apply(chainChanged(next))
	m.logger.Info("network changed", zap.String("network", evm.NetworkName(actual)))
	return nil
}

func (m *SessionManager) relayCallbacks() RelayCallbacks {
	return RelayCallbacks{
		AccountsChanged: func(accounts []string) {
			if err := m.OnAccountChanged(context.Background(), accounts); err != nil && !errors.Is(err, ErrNotConnected) {
				m.logger.Warn("account change handling failed", zap.Error(err))
			}
		},
		NetworkChanged: func(chainID *big.Int) {
			if err := m.OnNetworkChanged(context.Background(), chainID); err != nil && !errors.Is(err, ErrNotConnected) {
				m.logger.Warn("network change handling failed", zap.Error(err))
			}
		},
		Closed: func() {
			if err := m.Disconnect(context.Background()); err != nil {
				m.logger.Warn("disconnect after close failed", zap.Error(err))
			}
		},
		Reconcile: func(ctx context.Context) {
			sess := m.Current()
			if sess == nil {
				return
			}
			if err := m.sync(ctx, sess); err != nil {
				m.logger.Warn("reconciliation after ledger event failed", zap.Error(err))
			}
		},
	}
}

// memPrefs keeps the cached provider flags in memory.
type memPrefs struct {
	mu     sync.Mutex
	cached CachedSession
}

func (p *memPrefs) Load() (CachedSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached, nil
}

func (p *memPrefs) Save(c CachedSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = c
	return nil
}

func (p *memPrefs) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = CachedSession{}
	return nil
}
