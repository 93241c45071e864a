package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   ord:<orderHash>            → OrderRecord
//   tx:<transactionHash>       → TransactionRecord
//   txo:<orderHash>:<txHash>   → (empty) order→transaction index
//
// The txo index keeps order-scoped transaction lookups a prefix scan instead
// of a full-table walk.

// Key prefixes
const (
	prefixOrder       = "ord:"
	prefixTransaction = "tx:"
	prefixTxOrder     = "txo:"
)

// orderKey returns the key for an order record
// Format: "ord:{orderHash}"
func orderKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrder, hash.Hex()))
}

// transactionKey returns the key for a transaction record
// Format: "tx:{transactionHash}"
func transactionKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixTransaction, hash.Hex()))
}

// txOrderKey returns the index key linking an order to a transaction
// Format: "txo:{orderHash}:{transactionHash}"
func txOrderKey(orderHash, txHash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixTxOrder, orderHash.Hex(), txHash.Hex()))
}

// txOrderPrefix returns the prefix for all transactions covering an order
// Format: "txo:{orderHash}:"
func txOrderPrefix(orderHash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTxOrder, orderHash.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
