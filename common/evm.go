package common

import (
	"fmt"
	"strconv"
	"strings"
)

// HexToUint64 parses a 0x-prefixed quantity as returned by eth_blockNumber or eth_chainId.
func HexToUint64(hex string) (uint64, error) {
	s := strings.TrimSpace(hex)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("hex quantity must be 0x-prefixed: %q", hex)
	}
	if len(s) == 2 {
		return 0, fmt.Errorf("empty hex quantity: %q", hex)
	}
	return strconv.ParseUint(s[2:], 16, 64)
}

// NormalizeHex encodes a block number as a json-rpc quantity.
func NormalizeHex(value uint64) string {
	return "0x" + strconv.FormatUint(value, 16)
}
