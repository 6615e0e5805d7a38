package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/types"
)

// handleRefundTx resolves a stake back to the candidate. Authority only.
func handleRefundTx(m *Module) txsystem.ExecuteFunc {
	return func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
		return m.settle(txo, currentBlockNumber, true)
	}
}

// handleForfeitTx resolves a stake to the authority account. Authority only.
func handleForfeitTx(m *Module) txsystem.ExecuteFunc {
	return func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
		return m.settle(txo, currentBlockNumber, false)
	}
}

func (m *Module) settle(txo *types.TransactionOrder, currentBlockNumber uint64, refund bool) ([]*types.Event, error) {
	if err := m.validateDestination(txo); err != nil {
		return nil, fmt.Errorf("invalid settle tx: %w", err)
	}
	if txo.Payload.From != m.authority {
		return nil, fmt.Errorf("settle rejected: %w", ErrNotAuthority)
	}
	attr := &SettleAttributes{}
	if err := txo.Payload.UnmarshalAttributes(attr); err != nil {
		return nil, fmt.Errorf("invalid settle tx attributes: %w", err)
	}
	if attr.Candidate == (common.Address{}) {
		return nil, fmt.Errorf("settle tx is missing candidate address")
	}
	txRef, err := txo.Hash()
	if err != nil {
		return nil, fmt.Errorf("hashing settle tx: %w", err)
	}
	destination, eventName := m.authority, types.EventForfeited
	if refund {
		destination, eventName = attr.Candidate, types.EventRefunded
	}
	amount, err := m.state.Settle(attr.Candidate, destination, refund, txRef)
	if err != nil {
		return nil, fmt.Errorf("settle failed: %w", err)
	}
	return []*types.Event{{
		Name:        eventName,
		Candidate:   attr.Candidate,
		Amount:      amount,
		BlockNumber: currentBlockNumber,
		TxHash:      txRef,
	}}, nil
}
