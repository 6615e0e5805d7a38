package escrow

import (
	"fmt"

	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/types"
)

func handleLockTx(m *Module) txsystem.ExecuteFunc {
	return func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
		if err := m.validateDestination(txo); err != nil {
			return nil, fmt.Errorf("invalid lock tx: %w", err)
		}
		attr := &LockAttributes{}
		if err := txo.Payload.UnmarshalAttributes(attr); err != nil {
			return nil, fmt.Errorf("invalid lock tx attributes: %w", err)
		}
		txRef, err := txo.Hash()
		if err != nil {
			return nil, fmt.Errorf("hashing lock tx: %w", err)
		}
		candidate := txo.Payload.From
		if err := m.state.Lock(candidate, m.stakeAmount, txRef); err != nil {
			return nil, fmt.Errorf("lock failed: %w", err)
		}
		return []*types.Event{{
			Name:        types.EventLocked,
			Candidate:   candidate,
			Amount:      m.stakeAmount.Clone(),
			BlockNumber: currentBlockNumber,
			TxHash:      txRef,
		}}, nil
	}
}
