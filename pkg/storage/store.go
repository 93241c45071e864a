package storage

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAlreadyExists is returned by Create when a record with the same
// transaction hash was persisted before.
var ErrAlreadyExists = errors.New("transaction record already exists")

// OrderRecord tracks coordinator-side state for one order. Orders only get a
// record once something happens to them (today: a soft cancel).
type OrderRecord struct {
	Hash          common.Hash `json:"hash"`
	SoftCancelled bool        `json:"softCancelled"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// TransactionRecord is one granted approval. A zero ExpirationTimeSeconds
// marks a cancel acknowledgement, which never counts as an outstanding
// approval. OrderHashes and TakerAssetFillAmounts are parallel lists.
type TransactionRecord struct {
	Hash                  common.Hash    `json:"hash"`
	TxOrigin              common.Address `json:"txOrigin"`
	TakerAddress          common.Address `json:"takerAddress"`
	Signatures            [][]byte       `json:"signatures"`
	ExpirationTimeSeconds *big.Int       `json:"expirationTimeSeconds"`
	OrderHashes           []common.Hash  `json:"orderHashes"`
	TakerAssetFillAmounts []*big.Int     `json:"takerAssetFillAmounts"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// Unexpired reports whether the approval is still usable at now.
func (r *TransactionRecord) Unexpired(now time.Time) bool {
	return r.ExpirationTimeSeconds != nil && r.ExpirationTimeSeconds.Cmp(big.NewInt(now.Unix())) > 0
}

// OrderStore owns the soft-cancel flag of orders.
type OrderStore interface {
	IsSoftCancelled(hash common.Hash) (bool, error)
	// FindSoftCancelled returns the subset of hashes that are soft-cancelled,
	// preserving input order.
	FindSoftCancelled(hashes []common.Hash) ([]common.Hash, error)
	// SoftCancel is idempotent and monotone: once set the flag never clears.
	SoftCancel(hash common.Hash) error
}

// TransactionStore persists granted approvals keyed by transaction hash.
type TransactionStore interface {
	// Create atomically persists a record, failing with ErrAlreadyExists if
	// one with the same hash is present.
	Create(record *TransactionRecord) error
	// FindByHash returns nil when no record exists.
	FindByHash(hash common.Hash) (*TransactionRecord, error)
	// FindByOrders returns every record covering at least one of the orders,
	// regardless of taker.
	FindByOrders(orderHashes []common.Hash, unexpiredOnly bool) ([]*TransactionRecord, error)
	FindByOrdersAndTaker(orderHashes []common.Hash, taker common.Address, unexpiredOnly bool) ([]*TransactionRecord, error)
	FindByOrdersAndTxOrigin(orderHashes []common.Hash, txOrigin common.Address, unexpiredOnly bool) ([]*TransactionRecord, error)
}

// Store is the full persistence surface the coordinator wires at startup.
type Store interface {
	OrderStore
	TransactionStore
	Close() error
}

// PerOrderFillSum totals the taker-asset amounts the given records already
// reserve against each order. Every requested hash gets an entry, zero when
// nothing is reserved.
func PerOrderFillSum(records []*TransactionRecord, orderHashes []common.Hash) map[common.Hash]*big.Int {
	sums := make(map[common.Hash]*big.Int, len(orderHashes))
	for _, h := range orderHashes {
		if _, ok := sums[h]; !ok {
			sums[h] = big.NewInt(0)
		}
	}
	for _, r := range records {
		for i, h := range r.OrderHashes {
			prev, wanted := sums[h]
			if !wanted || i >= len(r.TakerAssetFillAmounts) || r.TakerAssetFillAmounts[i] == nil {
				continue
			}
			sums[h] = new(big.Int).Add(prev, r.TakerAssetFillAmounts[i])
		}
	}
	return sums
}

// recordFilter narrows order-indexed record lookups. Both backends share it.
type recordFilter struct {
	taker         *common.Address
	txOrigin      *common.Address
	unexpiredOnly bool
	now           time.Time
}

func (f recordFilter) match(r *TransactionRecord) bool {
	if f.taker != nil && r.TakerAddress != *f.taker {
		return false
	}
	if f.txOrigin != nil && r.TxOrigin != *f.txOrigin {
		return false
	}
	if f.unexpiredOnly && !r.Unexpired(f.now) {
		return false
	}
	return true
}

// sortRecords orders results by creation time, then hash, so callers see a
// stable ordering.
func sortRecords(records []*TransactionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Hash.Hex() < records[j].Hash.Hex()
	})
}
