package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type StakeState int

const (
	StakeUnlocked StakeState = iota
	StakeLocked
	StakeSettledRefunded
	StakeSettledForfeited
)

func (s StakeState) String() string {
	switch s {
	case StakeUnlocked:
		return "unlocked"
	case StakeLocked:
		return "locked"
	case StakeSettledRefunded:
		return "settled_refunded"
	case StakeSettledForfeited:
		return "settled_forfeited"
	default:
		return "unknown"
	}
}

// StakeRecord is the per-candidate escrow entry. Amount is non-zero exactly
// while the record is in StakeLocked state.
type StakeRecord struct {
	Candidate   common.Address
	Amount      *uint256.Int
	State       StakeState
	LockTxRef   common.Hash
	SettleTxRef common.Hash
}

func (r *StakeRecord) clone() *StakeRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Amount = r.Amount.Clone()
	return &c
}
