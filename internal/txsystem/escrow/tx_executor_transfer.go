package escrow

import (
	"fmt"

	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/types"
)

func handleTransferTx(m *Module) txsystem.ExecuteFunc {
	return func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
		if err := m.validateDestination(txo); err != nil {
			return nil, fmt.Errorf("invalid transfer tx: %w", err)
		}
		attr := &TransferAttributes{}
		if err := txo.Payload.UnmarshalAttributes(attr); err != nil {
			return nil, fmt.Errorf("invalid transfer tx attributes: %w", err)
		}
		if attr.Amount == nil {
			return nil, fmt.Errorf("invalid transfer tx: %w", ErrInvalidAmount)
		}
		if err := m.state.Transfer(txo.Payload.From, attr.Recipient, attr.Amount); err != nil {
			return nil, fmt.Errorf("transfer failed: %w", err)
		}
		return nil, nil
	}
}
