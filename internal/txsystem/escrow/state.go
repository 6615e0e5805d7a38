package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the authoritative balance and stake bookkeeping of the escrow
// ledger. Every operation is applied under a single lock so a concurrent
// reader can never observe a partial transfer. Writes are additionally
// serialized by the chain's execution loop.
type State struct {
	mu         sync.RWMutex
	ledger     common.Address
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]*uint256.Int
	stakes     map[common.Address]*StakeRecord
}

func NewState(ledger common.Address, initialBalances map[common.Address]*uint256.Int) *State {
	s := &State{
		ledger:     ledger,
		balances:   map[common.Address]*uint256.Int{},
		allowances: map[common.Address]*uint256.Int{},
		stakes:     map[common.Address]*StakeRecord{},
	}
	for addr, balance := range initialBalances {
		s.balances[addr] = balance.Clone()
	}
	return s
}

func (s *State) BalanceOf(addr common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceOf(addr).Clone()
}

func (s *State) AllowanceOf(addr common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.allowances[addr]; ok {
		return a.Clone()
	}
	return uint256.NewInt(0)
}

// StakeOf returns the currently locked amount for the candidate, zero when
// no stake is active.
func (s *State) StakeOf(candidate common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.stakes[candidate]; ok {
		return r.Amount.Clone()
	}
	return uint256.NewInt(0)
}

func (s *State) Record(candidate common.Address) *StakeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stakes[candidate].clone()
}

// Approve replaces the caller's standing authorization towards the ledger.
func (s *State) Approve(from common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[from] = amount.Clone()
}

func (s *State) Transfer(from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	if s.balanceOf(from).Lt(amount) {
		return ErrInsufficientBalance
	}
	s.debit(from, amount)
	s.credit(to, amount)
	return nil
}

// Lock moves amount from the candidate into ledger custody. The full
// validation runs before any effect, the operation lands whole or not at all.
func (s *State) Lock(candidate common.Address, amount *uint256.Int, txRef common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.stakes[candidate]; ok && r.State == StakeLocked {
		return ErrStakeAlreadyLocked
	}
	allowance, ok := s.allowances[candidate]
	if !ok || allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if s.balanceOf(candidate).Lt(amount) {
		return ErrInsufficientBalance
	}
	s.allowances[candidate] = uint256.NewInt(0).Sub(allowance, amount)
	s.debit(candidate, amount)
	s.credit(s.ledger, amount)
	s.stakes[candidate] = &StakeRecord{
		Candidate: candidate,
		Amount:    amount.Clone(),
		State:     StakeLocked,
		LockTxRef: txRef,
	}
	return nil
}

// Settle zeroes the stake record before crediting the destination. The
// zero-before-transfer ordering is what makes a second settlement attempt
// fail on the amount check no matter how it is interleaved.
func (s *State) Settle(candidate, destination common.Address, refunded bool, txRef common.Hash) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.stakes[candidate]
	if !ok || record.Amount.IsZero() {
		return nil, ErrNoStakeFound
	}
	amount := record.Amount.Clone()
	record.Amount = uint256.NewInt(0)
	if refunded {
		record.State = StakeSettledRefunded
	} else {
		record.State = StakeSettledForfeited
	}
	record.SettleTxRef = txRef
	s.debit(s.ledger, amount)
	s.credit(destination, amount)
	return amount, nil
}

func (s *State) balanceOf(addr common.Address) *uint256.Int {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return uint256.NewInt(0)
}

func (s *State) debit(addr common.Address, amount *uint256.Int) {
	s.balances[addr] = uint256.NewInt(0).Sub(s.balanceOf(addr), amount)
}

func (s *State) credit(addr common.Address, amount *uint256.Int) {
	s.balances[addr] = uint256.NewInt(0).Add(s.balanceOf(addr), amount)
}
