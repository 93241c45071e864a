package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/util"
)

// PebbleStore persists orders and approvals in a single Pebble database.
type PebbleStore struct {
	db    *pebble.DB
	clock util.Clock

	// mu serializes read-modify-write sequences; Pebble itself has no
	// conditional writes.
	mu sync.Mutex
}

func NewPebbleStore(path string, clock util.Clock) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, clock: clock}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// IsSoftCancelled reports the soft-cancel flag; orders without a record are
// not cancelled.
func (s *PebbleStore) IsSoftCancelled(hash common.Hash) (bool, error) {
	record, err := s.loadOrder(hash)
	if err != nil {
		return false, err
	}
	return record != nil && record.SoftCancelled, nil
}

// FindSoftCancelled returns the soft-cancelled subset, preserving input order.
func (s *PebbleStore) FindSoftCancelled(hashes []common.Hash) ([]common.Hash, error) {
	var cancelled []common.Hash
	for _, hash := range hashes {
		ok, err := s.IsSoftCancelled(hash)
		if err != nil {
			return nil, err
		}
		if ok {
			cancelled = append(cancelled, hash)
		}
	}
	return cancelled, nil
}

// SoftCancel sets the soft-cancel flag, creating the order record if absent.
// Idempotent.
func (s *PebbleStore) SoftCancel(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadOrder(hash)
	if err != nil {
		return err
	}
	if record != nil && record.SoftCancelled {
		return nil
	}
	record = &OrderRecord{Hash: hash, SoftCancelled: true, CreatedAt: s.clock.Now()}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal order record: %w", err)
	}
	if err := s.db.Set(orderKey(hash), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order record: %w", err)
	}
	return nil
}

func (s *PebbleStore) loadOrder(hash common.Hash) (*OrderRecord, error) {
	data, closer, err := s.db.Get(orderKey(hash))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order record: %w", err)
	}
	defer closer.Close()

	var record OrderRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order record: %w", err)
	}
	return &record, nil
}

// Create persists a transaction record plus its order index entries in one
// atomic batch. Fails with ErrAlreadyExists on a duplicate hash.
func (s *PebbleStore) Create(record *TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.FindByHash(record.Hash)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyExists
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction record: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(transactionKey(record.Hash), data, nil); err != nil {
		return fmt.Errorf("failed to stage transaction record: %w", err)
	}
	for _, orderHash := range record.OrderHashes {
		if err := batch.Set(txOrderKey(orderHash, record.Hash), nil, nil); err != nil {
			return fmt.Errorf("failed to stage order index: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit transaction record: %w", err)
	}
	return nil
}

// FindByHash loads a transaction record from Pebble
// Returns nil if the record doesn't exist
func (s *PebbleStore) FindByHash(hash common.Hash) (*TransactionRecord, error) {
	data, closer, err := s.db.Get(transactionKey(hash))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction record: %w", err)
	}
	defer closer.Close()

	var record TransactionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction record: %w", err)
	}
	return &record, nil
}

func (s *PebbleStore) FindByOrders(orderHashes []common.Hash, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

func (s *PebbleStore) FindByOrdersAndTaker(orderHashes []common.Hash, taker common.Address, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{taker: &taker, unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

func (s *PebbleStore) FindByOrdersAndTxOrigin(orderHashes []common.Hash, txOrigin common.Address, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{txOrigin: &txOrigin, unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

// findByOrders scans the txo index for every order, loads each transaction
// once, and applies the filter.
func (s *PebbleStore) findByOrders(orderHashes []common.Hash, filter recordFilter) ([]*TransactionRecord, error) {
	seen := make(map[common.Hash]bool)
	var records []*TransactionRecord
	for _, orderHash := range orderHashes {
		txHashes, err := s.transactionsForOrder(orderHash)
		if err != nil {
			return nil, err
		}
		for _, txHash := range txHashes {
			if seen[txHash] {
				continue
			}
			seen[txHash] = true
			record, err := s.FindByHash(txHash)
			if err != nil {
				return nil, err
			}
			if record == nil {
				continue // Dangling index entry
			}
			if filter.match(record) {
				records = append(records, record)
			}
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *PebbleStore) transactionsForOrder(orderHash common.Hash) ([]common.Hash, error) {
	prefix := txOrderPrefix(orderHash)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open index iterator: %w", err)
	}
	defer iter.Close()

	var hashes []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) <= len(prefix) {
			continue
		}
		hashes = append(hashes, common.HexToHash(string(key[len(prefix):])))
	}
	return hashes, nil
}

var _ Store = (*PebbleStore)(nil)
