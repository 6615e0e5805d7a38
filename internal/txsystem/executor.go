package txsystem

import (
	"fmt"

	"github.com/stakegate/stakegate/internal/types"
)

type (
	// ExecuteFunc applies a validated transaction to the ledger state and
	// returns the events it emitted. An error means the transaction reverts
	// and no state change may remain visible.
	ExecuteFunc func(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error)

	// TxExecutors routes transaction orders by payload type.
	TxExecutors map[string]ExecuteFunc

	// Module is a self-contained transaction system plugged into the chain.
	Module interface {
		TxExecutors() TxExecutors
	}
)

func (e TxExecutors) Execute(txo *types.TransactionOrder, currentBlockNumber uint64) ([]*types.Event, error) {
	executor, found := e[txo.Payload.Type]
	if !found {
		return nil, fmt.Errorf("unknown transaction type %q", txo.Payload.Type)
	}
	events, err := executor(txo, currentBlockNumber)
	if err != nil {
		return nil, fmt.Errorf("tx of type %q execution failed: %w", txo.Payload.Type, err)
	}
	return events, nil
}

// Add merges executors from src, rejecting duplicate registrations.
func (e TxExecutors) Add(src TxExecutors) error {
	for name, executor := range src {
		if name == "" {
			return fmt.Errorf("tx executor must have a type name")
		}
		if _, ok := e[name]; ok {
			return fmt.Errorf("tx executor for type %q already registered", name)
		}
		e[name] = executor
	}
	return nil
}
