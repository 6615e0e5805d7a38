package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakegate/stakegate/internal/types"
)

type (
	// Store persists the chain's audit trail: receipts by transaction hash,
	// the event log indexed by candidate, and the sealed round number.
	Store interface {
		PutReceipt(receipt *types.Receipt) error
		Receipt(txHash common.Hash) (*types.Receipt, error)
		PutEvents(events []*types.Event) error
		EventsByCandidate(candidate common.Address, fromBlock uint64) ([]*types.Event, error)
		RoundNumber() (uint64, error)
		SetRoundNumber(round uint64) error
	}

	// MemStore keeps everything in process memory, used in tests and
	// throwaway local chains.
	MemStore struct {
		mu       sync.RWMutex
		receipts map[common.Hash]*types.Receipt
		events   map[common.Address][]*types.Event
		round    uint64
	}
)

func NewMemStore() *MemStore {
	return &MemStore{
		receipts: map[common.Hash]*types.Receipt{},
		events:   map[common.Address][]*types.Event{},
	}
}

func (s *MemStore) PutReceipt(receipt *types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receipt.TxHash] = receipt
	return nil
}

// Receipt returns nil when the transaction is not (yet) part of the chain.
func (s *MemStore) Receipt(txHash common.Hash) (*types.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[txHash], nil
}

func (s *MemStore) PutEvents(events []*types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.Candidate] = append(s.events[e.Candidate], e)
	}
	return nil
}

func (s *MemStore) EventsByCandidate(candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Event
	for _, e := range s.events[candidate] {
		if e.BlockNumber >= fromBlock {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) RoundNumber() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round, nil
}

func (s *MemStore) SetRoundNumber(round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = round
	return nil
}
