package bookledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/bookledger/bookledger/pkg/logger"
)

// Config holds the ledger addresses and tuning of a Client.
type Config struct {
	LibraryAddress string
	// TokenAddress enables token payments when set.
	TokenAddress string
	// RentPrice is the token amount one rental costs, in base units.
	RentPrice      *big.Int
	TxCacheTTL     time.Duration
	RefreshTimeout time.Duration
}

// Client is the entry point: it wires the session manager, orchestrator,
// reconciler, payment gate and relay around one state store.
type Client struct {
	cfg Config

	store        *Store
	txCache      *TxCache
	sessions     *SessionManager
	orchestrator *Orchestrator
	reconciler   *Reconciler
	payment      *PaymentGate
	relay        *Relay

	logger     logger.Logger
	metrics    Metrics
	prefs      SessionPrefs
	connectors []Connector
	orchOpts   []OrchestratorOption
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger used by every component
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink used by every component
func WithMetrics(m Metrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPrefs sets where the cached provider flags are persisted
func WithPrefs(p SessionPrefs) ClientOption {
	return func(c *Client) {
		if p != nil {
			c.prefs = p
		}
	}
}

// WithConnector registers a wallet connector
func WithConnector(connector Connector) ClientOption {
	return func(c *Client) {
		c.connectors = append(c.connectors, connector)
	}
}

// WithOrchestratorOptions passes options, such as hooks, to the orchestrator
func WithOrchestratorOptions(opts ...OrchestratorOption) ClientOption {
	return func(c *Client) {
		c.orchOpts = append(c.orchOpts, opts...)
	}
}

// NewClient creates a client. binder turns providers into ledger bindings.
func NewClient(cfg Config, binder Binder, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  logger.NewNop(),
		metrics: nopMetrics{},
		prefs:   &memPrefs{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.store = NewStore()
	c.txCache = NewTxCache(cfg.TxCacheTTL)
	c.reconciler = NewReconciler(c.store, c.logger, c.metrics)
	c.orchestrator = NewOrchestrator(c.store, c.txCache, append([]OrchestratorOption{
		WithOrchestratorLogger(c.logger),
		WithOrchestratorMetrics(c.metrics),
		WithRefreshTimeout(cfg.RefreshTimeout),
	}, c.orchOpts...)...)
	c.payment = NewPaymentGate(c.store, c.orchestrator, cfg.RentPrice, c.sync, c.logger)
	c.relay = NewRelay(c.txCache, c.logger, c.metrics)
	c.sessions = NewSessionManager(
		SessionConfig{LibraryAddress: cfg.LibraryAddress, TokenAddress: cfg.TokenAddress},
		c.connectors,
		binder,
		c.prefs,
		c.store,
		c.relay,
		c.sync,
		c.logger,
		c.metrics,
	)
	return c
}

// sync runs the full reconciliation for sess: inventory, admin flag and,
// when token payments are enabled, the allowance.
func (c *Client) sync(ctx context.Context, sess *Session) error {
	if _, err := c.reconciler.Refresh(ctx, sess); err != nil {
		return err
	}
	if c.payment.Enabled(sess) {
		if _, err := c.payment.GetAllowance(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

// State returns the current snapshot.
func (c *Client) State() State {
	return c.store.Snapshot()
}

// OnStateChange registers a listener called after every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.store.OnChange(fn)
}

// Session returns the live session, or nil.
func (c *Client) Session() *Session {
	return c.sessions.Current()
}

// Connectors returns the registered connector names.
func (c *Client) Connectors() []string {
	return c.sessions.Connectors()
}

// Connect opens a session with the named connector.
func (c *Client) Connect(ctx context.Context, connectorName string) (*Session, error) {
	return c.sessions.Connect(ctx, connectorName)
}

// Resume reconnects with the cached provider.
func (c *Client) Resume(ctx context.Context) (*Session, error) {
	return c.sessions.Resume(ctx)
}

// Disconnect closes the session and resets state.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.sessions.Disconnect(ctx)
}

// OnAccountChanged forwards a wallet account switch.
func (c *Client) OnAccountChanged(ctx context.Context, accounts []string) error {
	return c.sessions.OnAccountChanged(ctx, accounts)
}

// OnNetworkChanged forwards a wallet network switch.
func (c *Client) OnNetworkChanged(ctx context.Context, chainID *big.Int) error {
	return c.sessions.OnNetworkChanged(ctx, chainID)
}

// Notifications subscribes ch to relay notifications.
func (c *Client) Notifications(ch chan<- Notification) event.Subscription {
	return c.relay.Notifications(ch)
}

// RelayState returns the relay subscription state.
func (c *Client) RelayState() RelayState {
	return c.relay.State()
}

// PaymentsEnabled reports whether the live session uses token payments.
func (c *Client) PaymentsEnabled() bool {
	return c.payment.Enabled(c.sessions.Current())
}

// RentPrice returns the token cost of one rental.
func (c *Client) RentPrice() *big.Int {
	return c.payment.RentPrice()
}

// Refresh re-reads the ledger for the live session and clears the visible error.
func (c *Client) Refresh(ctx context.Context) error {
	sess := c.sessions.Current()
	if sess == nil {
		return ErrNotConnected
	}
	c.store.Apply(forSession(sess.ID, clearError()))
	return c.sync(ctx, sess)
}

// RefreshAvailable rebuilds only the available list.
func (c *Client) RefreshAvailable(ctx context.Context) ([]Book, error) {
	return c.reconciler.RefreshAvailable(ctx, c.sessions.Current())
}

// RefreshRented rebuilds only the rented list.
func (c *Client) RefreshRented(ctx context.Context) ([]Book, error) {
	return c.reconciler.RefreshRented(ctx, c.sessions.Current())
}

// GetAllowance reads and publishes the token position of the live session.
func (c *Client) GetAllowance(ctx context.Context) (Allowance, error) {
	return c.payment.GetAllowance(ctx, c.sessions.Current())
}

// Approve lets the library pull up to amount tokens.
func (c *Client) Approve(ctx context.Context, amount *big.Int) Outcome {
	return c.payment.Approve(ctx, c.sessions.Current(), amount)
}

// Withdraw moves amount of the library's tokens to its owner.
func (c *Client) Withdraw(ctx context.Context, amount *big.Int) Outcome {
	return c.payment.Withdraw(ctx, c.sessions.Current(), amount)
}

// Close ends the session, keeping the cached provider for Resume, and stops
// the orchestrator. Use Disconnect to forget the cached provider.
func (c *Client) Close(ctx context.Context) error {
	c.sessions.Release(ctx)
	c.orchestrator.Close()
	return nil
}
