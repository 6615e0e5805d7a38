// Package client abstracts transaction submission and confirmed-state reads
// against the escrow chain. Coordinators depend on the ChainClient interface
// only; the in-process and HTTP implementations are interchangeable.
package client

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/types"
)

type ChainClient interface {
	// SubmitTransaction broadcasts a signed order. Acceptance is not
	// confirmation: callers must wait for the receipt.
	SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error)
	// GetReceipt returns nil without error while the transaction is pending.
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	GetRoundNumber(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, candidate common.Address, fromBlock uint64) ([]*types.Event, error)
	// LedgerDeployed reports whether the escrow ledger is live at addr.
	LedgerDeployed(ctx context.Context, addr common.Address) (bool, error)
	ChainID(ctx context.Context) (uint64, error)
	StakeOf(ctx context.Context, candidate common.Address) (*uint256.Int, error)
	BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
	AllowanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
}
