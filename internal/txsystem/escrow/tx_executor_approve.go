package escrow

import (
	"fmt"

	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/types"
)

func handleApproveTx(m *Module) txsystem.ExecuteFunc {
	return func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
		if err := m.validateDestination(txo); err != nil {
			return nil, fmt.Errorf("invalid approve tx: %w", err)
		}
		attr := &ApproveAttributes{}
		if err := txo.Payload.UnmarshalAttributes(attr); err != nil {
			return nil, fmt.Errorf("invalid approve tx attributes: %w", err)
		}
		if attr.Amount == nil {
			return nil, fmt.Errorf("invalid approve tx: %w", ErrInvalidAmount)
		}
		m.state.Approve(txo.Payload.From, attr.Amount)
		return nil, nil
	}
}
