package bookledger_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/test/mocks/memledger"
)

const (
	adminAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	userAddress  = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	otherAddress = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

type fixture struct {
	t         *testing.T
	ledger    *memledger.Ledger
	connector *memledger.Connector
	client    *bookledger.Client
	prefs     *memoryPrefs
}

type fixtureOptions struct {
	chainID    int64
	account    string
	token      bool
	connector  []memledger.ConnectorOption
	clientOpts []bookledger.ClientOption
}

type fixtureOption func(*fixtureOptions)

func onChain(id int64) fixtureOption {
	return func(o *fixtureOptions) { o.chainID = id }
}

func asAccount(address string) fixtureOption {
	return func(o *fixtureOptions) { o.account = address }
}

func withToken() fixtureOption {
	return func(o *fixtureOptions) { o.token = true }
}

func withConnectorOptions(opts ...memledger.ConnectorOption) fixtureOption {
	return func(o *fixtureOptions) { o.connector = append(o.connector, opts...) }
}

func withClientOptions(opts ...bookledger.ClientOption) fixtureOption {
	return func(o *fixtureOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// newFixture builds a client over a fresh ledger. The ledger charges one
// token per rental when the token is enabled.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	o := fixtureOptions{chainID: 3, account: userAddress}
	for _, opt := range opts {
		opt(&o)
	}

	var price *big.Int
	if o.token {
		price = big.NewInt(1)
	}
	ledger := memledger.New(adminAddress, price)
	connector := memledger.NewConnector("injected", o.chainID, []string{o.account}, o.connector...)
	prefs := &memoryPrefs{}

	cfg := bookledger.Config{
		LibraryAddress: memledger.LibraryAddress,
		RentPrice:      price,
		RefreshTimeout: 5 * time.Second,
	}
	if o.token {
		cfg.TokenAddress = memledger.TokenAddress
	}
	clientOpts := append([]bookledger.ClientOption{
		bookledger.WithConnector(connector),
		bookledger.WithPrefs(prefs),
	}, o.clientOpts...)

	client := bookledger.NewClient(cfg, ledger.Binder(), clientOpts...)
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return &fixture{t: t, ledger: ledger, connector: connector, client: client, prefs: prefs}
}

func (f *fixture) connect() *bookledger.Session {
	f.t.Helper()
	sess, err := f.client.Connect(context.Background(), "injected")
	require.NoError(f.t, err)
	return sess
}

func ids(books []bookledger.Book) []bookledger.BookID {
	out := make([]bookledger.BookID, 0, len(books))
	for _, b := range books {
		out = append(out, b.ID)
	}
	return out
}

// memoryPrefs records every cached-provider write.
type memoryPrefs struct {
	mu      sync.Mutex
	cached  bookledger.CachedSession
	saves   int
	clears  int
	loadErr error
}

func (p *memoryPrefs) Load() (bookledger.CachedSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached, p.loadErr
}

func (p *memoryPrefs) Save(c bookledger.CachedSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.cached = c
	return nil
}

func (p *memoryPrefs) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	p.cached = bookledger.CachedSession{}
	return nil
}

// recordingMetrics counts calls from the core.
type recordingMetrics struct {
	mu           sync.Mutex
	transactions map[bookledger.OutcomeKind]int
	reconciles   int
	connected    bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{transactions: make(map[bookledger.OutcomeKind]int)}
}

func (m *recordingMetrics) ObserveTransaction(_ bookledger.Action, kind bookledger.OutcomeKind, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[kind]++
}

func (m *recordingMetrics) ObserveReconcile(float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
}

func (m *recordingMetrics) IncLedgerEvent(bookledger.EventKind, bool) {}

func (m *recordingMetrics) IncProviderEvent(bookledger.ProviderEventKind) {}

func (m *recordingMetrics) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *recordingMetrics) count(kind bookledger.OutcomeKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[kind]
}

func (m *recordingMetrics) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
