package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/types"
)

var _ txsystem.Module = (*Module)(nil)

type (
	// Module is the escrow ledger transaction system. It owns the only code
	// paths that can move staked funds.
	Module struct {
		state       *State
		address     common.Address
		authority   common.Address
		stakeAmount *uint256.Int
	}

	Options struct {
		Address         common.Address
		Authority       common.Address
		StakeAmount     *uint256.Int
		InitialBalances map[common.Address]*uint256.Int
	}
)

func NewEscrowModule(options *Options) (*Module, error) {
	if options == nil {
		return nil, errors.New("escrow module options are missing")
	}
	if options.Address == (common.Address{}) {
		return nil, errors.New("ledger address is missing")
	}
	if options.Authority == (common.Address{}) {
		return nil, errors.New("authority address is missing")
	}
	if options.StakeAmount == nil || options.StakeAmount.IsZero() {
		return nil, fmt.Errorf("invalid stake amount: %w", ErrInvalidAmount)
	}
	return &Module{
		state:       NewState(options.Address, options.InitialBalances),
		address:     options.Address,
		authority:   options.Authority,
		stakeAmount: options.StakeAmount.Clone(),
	}, nil
}

func (m *Module) TxExecutors() txsystem.TxExecutors {
	return txsystem.TxExecutors{
		types.TxApprove:  handleApproveTx(m),
		types.TxTransfer: handleTransferTx(m),
		types.TxLock:     handleLockTx(m),
		types.TxRefund:   handleRefundTx(m),
		types.TxForfeit:  handleForfeitTx(m),
	}
}

func (m *Module) Address() common.Address   { return m.address }
func (m *Module) Authority() common.Address { return m.authority }
func (m *Module) StakeAmount() *uint256.Int { return m.stakeAmount.Clone() }

func (m *Module) StakeOf(candidate common.Address) *uint256.Int {
	return m.state.StakeOf(candidate)
}

func (m *Module) BalanceOf(addr common.Address) *uint256.Int {
	return m.state.BalanceOf(addr)
}

func (m *Module) AllowanceOf(addr common.Address) *uint256.Int {
	return m.state.AllowanceOf(addr)
}

func (m *Module) Record(candidate common.Address) *StakeRecord {
	return m.state.Record(candidate)
}

// validateDestination rejects transactions addressed to anything but the
// ledger itself.
func (m *Module) validateDestination(txo *types.TransactionOrder) error {
	if txo.Payload.To != m.address {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongDestination, txo.Payload.To, m.address)
	}
	return nil
}
