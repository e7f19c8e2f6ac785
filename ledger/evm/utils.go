package evm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress reports whether s is a well-formed 20-byte hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress returns the checksummed form of a hex address.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// SameAddress compares two hex addresses case-insensitively.
// Malformed addresses never match.
func SameAddress(a, b string) bool {
	if !IsValidAddress(a) || !IsValidAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// BytesToHex encodes bytes as a 0x-prefixed hex string
func BytesToHex(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

// HexToBytes decodes a hex string with or without the 0x prefix
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return data, nil
}

// Bytes32FromHex parses a bytes32 value. Shorter inputs are left-padded.
func Bytes32FromHex(s string) ([32]byte, error) {
	var out [32]byte
	data, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(data) > 32 {
		return out, fmt.Errorf("value exceeds 32 bytes: got %d", len(data))
	}
	copy(out[32-len(data):], data)
	return out, nil
}
