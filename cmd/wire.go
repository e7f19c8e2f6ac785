package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/connectors"
	"github.com/bookledger/bookledger/ledger/contracts"
	"github.com/bookledger/bookledger/pkg/config"
	"github.com/bookledger/bookledger/pkg/logger"
	"github.com/bookledger/bookledger/pkg/metrics"
	"github.com/bookledger/bookledger/pkg/prefs"
	signerevm "github.com/bookledger/bookledger/signers/evm"
)

// ledgerWiring turns a validated configuration into the contract binder and
// the wallet connectors the client offers.
type ledgerWiring func(cfg *config.Config) (bookledger.Binder, []bookledger.Connector, error)

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Collector
	prefs   *prefs.Store
	client  *bookledger.Client
}

type rootFlags struct {
	configFile string
	logLevel   string
	connector  string
}

func wireApp(flags rootFlags, wire ledgerWiring) (*app, error) {
	v := config.New()
	if flags.logLevel != "" {
		v.Set(config.KeyLogLevel, flags.logLevel)
	}
	if flags.connector != "" {
		v.Set(config.KeyConnector, flags.connector)
	}
	cfg, err := config.Load(v, flags.configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := prefs.New(cfg.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("wire session prefs: %w", err)
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	binder, conns, err := wire(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire ledger: %w", err)
	}

	collector := metrics.NewCollector("")
	opts := []bookledger.ClientOption{
		bookledger.WithLogger(log),
		bookledger.WithMetrics(collector),
		bookledger.WithPrefs(store),
	}
	for _, c := range conns {
		opts = append(opts, bookledger.WithConnector(c))
	}

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: collector,
		prefs:   store,
		client:  bookledger.NewClient(clientCfg, binder, opts...),
	}, nil
}

// rpcWiring binds the deployed contracts over JSON-RPC and offers the
// connector selected by the configuration.
func rpcWiring(cfg *config.Config) (bookledger.Binder, []bookledger.Connector, error) {
	providerOpts := []connectors.ProviderOption{
		connectors.WithChainPollInterval(cfg.NetworkPollInterval),
		connectors.WithSignerOptions(signerevm.WithReceiptTimeout(cfg.ReceiptTimeout)),
	}

	var connector bookledger.Connector
	switch cfg.Connector {
	case config.ConnectorPrivateKey:
		connector = connectors.NewPrivateKeyConnector(cfg.RPCURL, cfg.PrivateKey, providerOpts...)
	case config.ConnectorKeystore:
		connector = connectors.NewKeystoreConnector(cfg.RPCURL, cfg.Keystore.Dir, cfg.Keystore.Account, cfg.Keystore.Password, providerOpts...)
	default:
		return nil, nil, fmt.Errorf("unsupported connector %q", cfg.Connector)
	}
	return contracts.NewBinder(), []bookledger.Connector{connector}, nil
}

// session resumes the cached connector when it is the configured one, and
// connects the configured connector otherwise.
func (a *app) session(ctx context.Context) (*bookledger.Session, error) {
	cached, err := a.prefs.Load()
	if err != nil {
		a.log.Warn("ignoring unreadable session prefs", zap.String("path", a.prefs.Path()), zap.Error(err))
	}
	if err == nil && cached.CachedProvider == a.cfg.Connector {
		sess, err := a.client.Resume(ctx)
		if !errors.Is(err, bookledger.ErrNoCachedProvider) {
			return sess, err
		}
	}
	return a.client.Connect(ctx, a.cfg.Connector)
}

func (a *app) close() {
	if err := a.client.Close(context.Background()); err != nil {
		a.log.Warn("failed to close client", zap.Error(err))
	}
	_ = a.log.Sync()
}
