package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	// ApproveAttributes grants the ledger a standing authorization to move
	// Amount out of the caller's balance. A new approval replaces the old one.
	ApproveAttributes struct {
		_      struct{} `cbor:",toarray"`
		Amount *uint256.Int
	}

	// TransferAttributes moves Amount from the caller to Recipient.
	TransferAttributes struct {
		_         struct{} `cbor:",toarray"`
		Recipient common.Address
		Amount    *uint256.Int
	}

	// LockAttributes carries no fields, the stake amount is a protocol wide
	// constant held by the ledger itself.
	LockAttributes struct {
		_ struct{} `cbor:",toarray"`
	}

	// SettleAttributes names the candidate whose stake is being resolved.
	// Used by both authorizeRefund and authorizeForfeit.
	SettleAttributes struct {
		_         struct{} `cbor:",toarray"`
		Candidate common.Address
	}
)
