package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
// Design principles:
// 1. Prefix-based for range scans (all balances, all orders, recent trades)
// 2. Zero-padded numeric segments for lexicographic ordering
// 3. Hex addresses as identity segments

const (
	prefixBalance = "bal:"   // custody balance entries
	prefixOrder   = "ord:"   // order records (including status)
	prefixTrade   = "trade:" // trade history
	keyOrderSeq   = "seq:orders"
)

// balanceKey returns the key for a custody entry.
// Format: "bal:{token}:{owner}"
func balanceKey(token, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), owner.Hex()))
}

// balancePrefix covers every custody entry.
func balancePrefix() []byte {
	return []byte(prefixBalance)
}

// orderKey returns the key for an order.
// Format: "ord:{id}" with the id zero-padded (20 digits) so iteration order
// matches issue order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// orderPrefix covers every order.
func orderPrefix() []byte {
	return []byte(prefixOrder)
}

// tradeKey returns the key for a trade record.
// Format: "trade:{timestamp}:{orderID}", timestamp zero-padded for
// chronological iteration.
func tradeKey(timestamp int64, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixTrade, timestamp, id))
}

// tradePrefix covers every trade record.
func tradePrefix() []byte {
	return []byte(prefixTrade)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
