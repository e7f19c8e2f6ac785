package evm

import (
	"fmt"
	"math/big"
	"strings"
)

var (
	ChainIDMainnet     = big.NewInt(1)
	ChainIDRopsten     = big.NewInt(3)
	ChainIDRinkeby     = big.NewInt(4)
	ChainIDGoerli      = big.NewInt(5)
	ChainIDSepolia     = big.NewInt(11155111)
	ChainIDPolygon     = big.NewInt(137)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// NetworkConfigs is keyed by decimal chain id.
	NetworkConfigs = map[string]NetworkConfig{
		"1": {
			ChainID:     ChainIDMainnet,
			Name:        "mainnet",
			ExplorerURL: "https://etherscan.io",
		},
		"3": {
			ChainID:     ChainIDRopsten,
			Name:        "ropsten",
			ExplorerURL: "https://ropsten.etherscan.io",
			Testnet:     true,
		},
		"4": {
			ChainID:     ChainIDRinkeby,
			Name:        "rinkeby",
			ExplorerURL: "https://rinkeby.etherscan.io",
			Testnet:     true,
		},
		"5": {
			ChainID:     ChainIDGoerli,
			Name:        "goerli",
			ExplorerURL: "https://goerli.etherscan.io",
			Testnet:     true,
		},
		"11155111": {
			ChainID:     ChainIDSepolia,
			Name:        "sepolia",
			ExplorerURL: "https://sepolia.etherscan.io",
			Testnet:     true,
		},
		"137": {
			ChainID:     ChainIDPolygon,
			Name:        "polygon",
			ExplorerURL: "https://polygonscan.com",
		},
		"8453": {
			ChainID:     ChainIDBase,
			Name:        "base",
			ExplorerURL: "https://basescan.org",
		},
		"84532": {
			ChainID:     ChainIDBaseSepolia,
			Name:        "base-sepolia",
			ExplorerURL: "https://sepolia.basescan.org",
			Testnet:     true,
		},
	}
)

// GetNetworkConfig returns the configuration for a chain id.
func GetNetworkConfig(chainID *big.Int) (*NetworkConfig, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	if config, ok := NetworkConfigs[chainID.String()]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported chain id: %s", chainID)
}

// NetworkName returns a display name for the chain, falling back to "chain-<id>".
func NetworkName(chainID *big.Int) string {
	config, err := GetNetworkConfig(chainID)
	if err != nil {
		if chainID == nil {
			return "unknown"
		}
		return "chain-" + chainID.String()
	}
	return config.Name
}

// ExplorerTxURL returns the public explorer link for a transaction hash.
// The second result is false when the chain has no known explorer.
func ExplorerTxURL(chainID *big.Int, txHash string) (string, bool) {
	if txHash == "" {
		return "", false
	}
	config, err := GetNetworkConfig(chainID)
	if err != nil || config.ExplorerURL == "" {
		return "", false
	}
	return strings.TrimSuffix(config.ExplorerURL, "/") + "/tx/" + txHash, true
}
