// Package config loads bookledger settings from a TOML file, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/evm"
)

// Keys
const (
	KeyRPCURL              = "rpc_url"
	KeyLibraryAddress      = "library_address"
	KeyTokenAddress        = "token_address"
	KeyRentPrice           = "rent_price"
	KeyConnector           = "connector"
	KeyPrivateKey          = "private_key"
	KeyKeystoreDir         = "keystore.dir"
	KeyKeystoreAccount     = "keystore.account"
	KeyKeystorePassword    = "keystore.password"
	KeyPrefsPath           = "prefs_path"
	KeyLogLevel            = "log_level"
	KeyReceiptTimeout      = "receipt_timeout"
	KeyNetworkPollInterval = "network_poll_interval"
	KeyHTTPAddr            = "http.addr"
	KeyMetricsAddr         = "metrics.addr"
)

const (
	envPrefix   = "BOOKLEDGER"
	configName  = "bookledger"
	configType  = "toml"
	configDir   = ".bookledger"
	defaultRPC  = "http://127.0.0.1:8545"
	defaultHTTP = "127.0.0.1:8080"
)

// Connector names accepted by the connector key.
const (
	ConnectorPrivateKey = "privatekey"
	ConnectorKeystore   = "keystore"
)

// Config is the resolved configuration of one run.
type Config struct {
	RPCURL              string
	LibraryAddress      string
	TokenAddress        string
	RentPrice           string
	Connector           string
	PrivateKey          string
	Keystore            KeystoreConfig
	PrefsPath           string
	LogLevel            string
	ReceiptTimeout      time.Duration
	NetworkPollInterval time.Duration
	HTTPAddr            string
	MetricsAddr         string
}

// KeystoreConfig selects an account of an encrypted keystore.
type KeystoreConfig struct {
	Dir      string
	Account  string
	Password string
}

// New returns a viper instance with bookledger's defaults, env binding and search paths.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, configDir))
	}
	v.AddConfigPath(".")

	v.SetDefault(KeyRPCURL, defaultRPC)
	v.SetDefault(KeyConnector, ConnectorPrivateKey)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyReceiptTimeout, evm.DefaultReceiptTimeout)
	v.SetDefault(KeyNetworkPollInterval, 4*time.Second)
	v.SetDefault(KeyHTTPAddr, defaultHTTP)
	// Registered so AutomaticEnv also resolves them through Get.
	for _, key := range []string{
		KeyLibraryAddress, KeyTokenAddress, KeyRentPrice, KeyPrivateKey,
		KeyKeystoreDir, KeyKeystoreAccount, KeyKeystorePassword, KeyPrefsPath, KeyMetricsAddr,
	} {
		v.SetDefault(key, "")
	}
	return v
}

// Load reads the config file, if any, and resolves every key. file overrides
// the search paths when set.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return &Config{
		RPCURL:         v.GetString(KeyRPCURL),
		LibraryAddress: v.GetString(KeyLibraryAddress),
		TokenAddress:   v.GetString(KeyTokenAddress),
		RentPrice:      v.GetString(KeyRentPrice),
		Connector:      strings.ToLower(v.GetString(KeyConnector)),
		PrivateKey:     v.GetString(KeyPrivateKey),
		Keystore: KeystoreConfig{
			Dir:      v.GetString(KeyKeystoreDir),
			Account:  v.GetString(KeyKeystoreAccount),
			Password: v.GetString(KeyKeystorePassword),
		},
		PrefsPath:           v.GetString(KeyPrefsPath),
		LogLevel:            v.GetString(KeyLogLevel),
		ReceiptTimeout:      v.GetDuration(KeyReceiptTimeout),
		NetworkPollInterval: v.GetDuration(KeyNetworkPollInterval),
		HTTPAddr:            v.GetString(KeyHTTPAddr),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
	}, nil
}

// Validate reports every missing or malformed key at once.
func (c *Config) Validate() error {
	var problems []string
	missing := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is required")
		}
	}

	missing(KeyRPCURL, c.RPCURL)
	missing(KeyLibraryAddress, c.LibraryAddress)
	if c.LibraryAddress != "" && !evm.IsValidAddress(c.LibraryAddress) {
		problems = append(problems, KeyLibraryAddress+" is not a valid address")
	}
	if c.TokenAddress != "" && !evm.IsValidAddress(c.TokenAddress) {
		problems = append(problems, KeyTokenAddress+" is not a valid address")
	}
	if c.TokenAddress != "" {
		missing(KeyRentPrice, c.RentPrice)
	}
	if c.RentPrice != "" {
		if _, err := c.RentPriceAmount(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch c.Connector {
	case ConnectorPrivateKey:
		missing(KeyPrivateKey, c.PrivateKey)
	case ConnectorKeystore:
		missing(KeyKeystoreDir, c.Keystore.Dir)
	default:
		problems = append(problems, fmt.Sprintf("%s %q is not one of %s, %s", KeyConnector, c.Connector, ConnectorPrivateKey, ConnectorKeystore))
	}

	if c.ReceiptTimeout <= 0 {
		problems = append(problems, KeyReceiptTimeout+" must be positive")
	}
	if c.NetworkPollInterval < 0 {
		problems = append(problems, KeyNetworkPollInterval+" must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RentPriceAmount parses rent_price as a base-unit integer. Empty means no price.
func (c *Config) RentPriceAmount() (*big.Int, error) {
	if c.RentPrice == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(c.RentPrice), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not a non-negative integer", KeyRentPrice, c.RentPrice)
	}
	return amount, nil
}

// ClientConfig returns the core client configuration.
func (c *Config) ClientConfig() (bookledger.Config, error) {
	price, err := c.RentPriceAmount()
	if err != nil {
		return bookledger.Config{}, err
	}
	return bookledger.Config{
		LibraryAddress: c.LibraryAddress,
		TokenAddress:   c.TokenAddress,
		RentPrice:      price,
		RefreshTimeout: c.ReceiptTimeout,
	}, nil
}
