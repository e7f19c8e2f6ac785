// Package evm holds the EVM vocabulary shared by the ledger adapters: contract ABIs,
// receipt and network types, and address helpers.
package evm

import "math/big"

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Succeeded reports whether the receipt carries the success status.
func (r *TransactionReceipt) Succeeded() bool {
	return r != nil && r.Status == TxStatusSuccess
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	ChainID     *big.Int
	Name        string
	ExplorerURL string
	Testnet     bool
}
