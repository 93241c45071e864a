package storage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/util"
)

// MemoryStore is an in-memory Store for tests and throwaway deployments.
type MemoryStore struct {
	clock util.Clock

	mu           sync.Mutex
	orders       map[common.Hash]*OrderRecord
	transactions map[common.Hash]*TransactionRecord
	byOrder      map[common.Hash][]common.Hash
}

func NewMemoryStore(clock util.Clock) *MemoryStore {
	return &MemoryStore{
		clock:        clock,
		orders:       make(map[common.Hash]*OrderRecord),
		transactions: make(map[common.Hash]*TransactionRecord),
		byOrder:      make(map[common.Hash][]common.Hash),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) IsSoftCancelled(hash common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.orders[hash]
	return ok && record.SoftCancelled, nil
}

func (s *MemoryStore) FindSoftCancelled(hashes []common.Hash) ([]common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cancelled []common.Hash
	for _, hash := range hashes {
		if record, ok := s.orders[hash]; ok && record.SoftCancelled {
			cancelled = append(cancelled, hash)
		}
	}
	return cancelled, nil
}

func (s *MemoryStore) SoftCancel(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.orders[hash]; ok && record.SoftCancelled {
		return nil
	}
	s.orders[hash] = &OrderRecord{Hash: hash, SoftCancelled: true, CreatedAt: s.clock.Now()}
	return nil
}

func (s *MemoryStore) Create(record *TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[record.Hash]; ok {
		return ErrAlreadyExists
	}
	s.transactions[record.Hash] = record
	for _, orderHash := range record.OrderHashes {
		s.byOrder[orderHash] = append(s.byOrder[orderHash], record.Hash)
	}
	return nil
}

func (s *MemoryStore) FindByHash(hash common.Hash) (*TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions[hash], nil
}

func (s *MemoryStore) FindByOrders(orderHashes []common.Hash, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

func (s *MemoryStore) FindByOrdersAndTaker(orderHashes []common.Hash, taker common.Address, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{taker: &taker, unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

func (s *MemoryStore) FindByOrdersAndTxOrigin(orderHashes []common.Hash, txOrigin common.Address, unexpiredOnly bool) ([]*TransactionRecord, error) {
	return s.findByOrders(orderHashes, recordFilter{txOrigin: &txOrigin, unexpiredOnly: unexpiredOnly, now: s.clock.Now()})
}

func (s *MemoryStore) findByOrders(orderHashes []common.Hash, filter recordFilter) ([]*TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[common.Hash]bool)
	var records []*TransactionRecord
	for _, orderHash := range orderHashes {
		for _, txHash := range s.byOrder[orderHash] {
			if seen[txHash] {
				continue
			}
			seen[txHash] = true
			record, ok := s.transactions[txHash]
			if !ok {
				continue
			}
			if filter.match(record) {
				records = append(records, record)
			}
		}
	}
	sortRecords(records)
	return records, nil
}

var _ Store = (*MemoryStore)(nil)
