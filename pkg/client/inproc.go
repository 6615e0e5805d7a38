package client

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/chain"
	"github.com/stakegate/stakegate/internal/types"
)

// InProcClient serves the ChainClient surface directly from an embedded
// node, no transport involved. Used by tests and the single-binary setup.
type InProcClient struct {
	node *chain.Node
}

var _ ChainClient = (*InProcClient)(nil)

func NewInProcClient(node *chain.Node) *InProcClient {
	return &InProcClient{node: node}
}

func (c *InProcClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return c.node.Submit(txo)
}

func (c *InProcClient) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.node.Receipt(txHash)
}

func (c *InProcClient) GetRoundNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.node.RoundNumber(), nil
}

func (c *InProcClient) GetEvents(ctx context.Context, candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.node.Events(candidate, fromBlock)
}

func (c *InProcClient) LedgerDeployed(ctx context.Context, addr common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.node.LedgerDeployed(addr), nil
}

func (c *InProcClient) ChainID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.node.ChainID(), nil
}

func (c *InProcClient) StakeOf(ctx context.Context, candidate common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.node.StakeOf(candidate), nil
}

func (c *InProcClient) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.node.BalanceOf(addr), nil
}

func (c *InProcClient) AllowanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.node.AllowanceOf(addr), nil
}
