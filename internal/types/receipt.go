package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type TxStatus uint64

const (
	TxStatusFailed     TxStatus = 0
	TxStatusSuccessful TxStatus = 1
)

// Ledger event names, recorded per candidate when staked funds move.
const (
	EventLocked    = "Locked"
	EventRefunded  = "Refunded"
	EventForfeited = "Forfeited"
)

type (
	// Receipt is the sealed outcome of an executed transaction. A failed
	// receipt carries the ledger's revert reason; it is still part of the
	// chain and serves as proof of rejection.
	Receipt struct {
		_            struct{} `cbor:",toarray"`
		TxHash       common.Hash
		Status       TxStatus
		From         common.Address
		To           common.Address
		BlockNumber  uint64
		RevertReason string
	}

	// Event records a stake transition observable through the event log.
	Event struct {
		_           struct{} `cbor:",toarray"`
		Name        string
		Candidate   common.Address
		Amount      *uint256.Int
		BlockNumber uint64
		TxHash      common.Hash
	}
)

func (r *Receipt) Successful() bool {
	return r != nil && r.Status == TxStatusSuccessful
}
