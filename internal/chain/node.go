// Package chain runs the single-node ledger: it orders signed transaction
// orders into blocks, executes them through the escrow module and records
// receipts and events. Execution is serialized, which makes the ledger the
// sole synchronization point between concurrent candidate pipelines.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/crypto"
	"github.com/stakegate/stakegate/internal/txsystem"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/logger"
)

var (
	ErrInvalidChainID    = errors.New("transaction chain id does not match node chain id")
	ErrInvalidOwnerProof = errors.New("owner proof does not match the sender address")
	ErrTxTimeout         = errors.New("transaction timeout round has passed")
)

type Node struct {
	mu        sync.Mutex
	chainID   uint64
	module    *escrow.Module
	executors txsystem.TxExecutors
	store     Store
	round     uint64
	log       *logger.Logger
}

func NewNode(chainID uint64, module *escrow.Module, store Store, log *logger.Logger) (*Node, error) {
	if module == nil {
		return nil, errors.New("escrow module is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	round, err := store.RoundNumber()
	if err != nil {
		return nil, fmt.Errorf("reading persisted round number: %w", err)
	}
	executors := txsystem.TxExecutors{}
	if err := executors.Add(module.TxExecutors()); err != nil {
		return nil, fmt.Errorf("registering escrow executors: %w", err)
	}
	return &Node{
		chainID:   chainID,
		module:    module,
		executors: executors,
		store:     store,
		round:     round,
		log:       log.WithModule("chain"),
	}, nil
}

// Submit validates the order, executes it in the next block and returns the
// transaction hash. A ledger-level revert still seals a block: the failed
// receipt with its revert reason is the caller's proof of rejection. Orders
// that fail pre-broadcast checks (signature, chain id, timeout) are never
// part of the chain.
func (n *Node) Submit(txo *types.TransactionOrder) (common.Hash, error) {
	txHash, err := n.verifyOrder(txo)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transaction rejected: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// A resubmitted order (same hash, e.g. after a lost response) is
	// acknowledged with its original hash and must never re-execute: the
	// recorded receipt is the proof of the first execution.
	existing, err := n.store.Receipt(txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading receipt: %w", err)
	}
	if existing != nil {
		return txHash, nil
	}

	blockNumber := n.round + 1
	receipt := &types.Receipt{
		TxHash:      txHash,
		Status:      types.TxStatusSuccessful,
		From:        txo.Payload.From,
		To:          txo.Payload.To,
		BlockNumber: blockNumber,
	}
	events, execErr := n.executors.Execute(txo, blockNumber)
	if execErr != nil {
		receipt.Status = types.TxStatusFailed
		receipt.RevertReason = execErr.Error()
		n.log.Debug("tx %s reverted: %v", txHash, execErr)
	}
	if err := n.seal(receipt, events); err != nil {
		return common.Hash{}, err
	}
	n.log.Debug("sealed block %d with tx %s (%s)", blockNumber, txHash, txo.Payload.Type)
	return txHash, nil
}

func (n *Node) seal(receipt *types.Receipt, events []*types.Event) error {
	if err := n.store.PutReceipt(receipt); err != nil {
		return fmt.Errorf("persisting receipt: %w", err)
	}
	if len(events) > 0 {
		if err := n.store.PutEvents(events); err != nil {
			return fmt.Errorf("persisting events: %w", err)
		}
	}
	n.round = receipt.BlockNumber
	if err := n.store.SetRoundNumber(n.round); err != nil {
		return fmt.Errorf("persisting round number: %w", err)
	}
	return nil
}

func (n *Node) verifyOrder(txo *types.TransactionOrder) (common.Hash, error) {
	if txo == nil || txo.Payload == nil {
		return common.Hash{}, errors.New("transaction order is nil")
	}
	if txo.Payload.ChainID != n.chainID {
		return common.Hash{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidChainID, txo.Payload.ChainID, n.chainID)
	}
	txHash, err := txo.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	sender, err := crypto.RecoverAddress(txHash.Bytes(), txo.OwnerProof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidOwnerProof, err)
	}
	if sender != txo.Payload.From {
		return common.Hash{}, fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidOwnerProof, sender, txo.Payload.From)
	}
	if meta := txo.Payload.ClientMetadata; meta != nil && meta.Timeout > 0 && n.RoundNumber() >= meta.Timeout {
		return common.Hash{}, ErrTxTimeout
	}
	return txHash, nil
}

func (n *Node) RoundNumber() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round
}

func (n *Node) Receipt(txHash common.Hash) (*types.Receipt, error) {
	return n.store.Receipt(txHash)
}

func (n *Node) Events(candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	return n.store.EventsByCandidate(candidate, fromBlock)
}

func (n *Node) ChainID() uint64 { return n.chainID }

func (n *Node) LedgerAddress() common.Address { return n.module.Address() }

func (n *Node) Authority() common.Address { return n.module.Authority() }

func (n *Node) StakeAmount() *uint256.Int { return n.module.StakeAmount() }

// LedgerDeployed reports whether addr hosts the escrow ledger.
func (n *Node) LedgerDeployed(addr common.Address) bool {
	return addr == n.module.Address()
}

func (n *Node) StakeOf(candidate common.Address) *uint256.Int {
	return n.module.StakeOf(candidate)
}

func (n *Node) BalanceOf(addr common.Address) *uint256.Int {
	return n.module.BalanceOf(addr)
}

func (n *Node) AllowanceOf(addr common.Address) *uint256.Int {
	return n.module.AllowanceOf(addr)
}
