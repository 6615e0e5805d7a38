// Package lock drives a candidate's wallet through allowance granting and
// fund locking, and verifies the resulting on-chain effect before declaring
// escrow established.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/retry"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/client"
	"github.com/stakegate/stakegate/pkg/errkind"
	"github.com/stakegate/stakegate/pkg/logger"
	"github.com/stakegate/stakegate/pkg/progress"
)

type State string

const (
	StateIdle             State = "Idle"
	StateLockRequired     State = "LockRequired"
	StateAuthorizing      State = "Authorizing"
	StateSubmitting       State = "Submitting"
	StateAwaitingFinality State = "AwaitingFinality"
	StateEstablished      State = "Established"
	StateRejected         State = "Rejected"
	StateFailed           State = "Failed"
)

const (
	defaultTxTimeoutRounds = 10
	defaultPollInterval    = 500 * time.Millisecond
	defaultConfirmTimeout  = 2 * time.Minute
)

type (
	// TxSigner is the candidate's wallet. SignTx returns the owner proof
	// over the payload hash, or an error classified UserDeclined when the
	// wallet refuses.
	TxSigner interface {
		SignTx(ctx context.Context, payload *types.Payload) ([]byte, error)
		Address() common.Address
	}

	Config struct {
		Client        client.ChainClient
		Signer        TxSigner
		LedgerAddress common.Address
		ChainID       uint64
		StakeAmount   *uint256.Int

		Retry    retry.Policy
		Progress *progress.Reporter
		Log      *logger.Logger

		TxTimeoutRounds uint64
		PollInterval    time.Duration
		ConfirmTimeout  time.Duration
	}

	Coordinator struct {
		cfg Config
		log *logger.Logger
	}

	// Result is a terminal lock outcome. Err is set for Rejected and
	// Failed, nil for Established.
	Result struct {
		State State
		TxRef common.Hash
		Err   error
	}
)

func New(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errors.New("chain client is nil")
	}
	if cfg.Signer == nil {
		return nil, errors.New("tx signer is nil")
	}
	if cfg.LedgerAddress == (common.Address{}) {
		return nil, errors.New("ledger address is missing")
	}
	if cfg.StakeAmount == nil || cfg.StakeAmount.IsZero() {
		return nil, errors.New("stake amount must be greater than zero")
	}
	if cfg.TxTimeoutRounds == 0 {
		cfg.TxTimeoutRounds = defaultTxTimeoutRounds
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{cfg: cfg, log: log.WithModule("lock")}, nil
}

// Run executes the full lock pipeline for the configured candidate. A failed
// run is never resumed mid-flight: the caller may retry from the start.
func (c *Coordinator) Run(ctx context.Context) Result {
	candidate := c.cfg.Signer.Address()
	c.report(progress.StateLockRequired, "stake lock required", common.Hash{})

	if err := c.verifyEnvironment(ctx); err != nil {
		return c.failed(common.Hash{}, err)
	}

	if err := c.ensureAllowance(ctx, candidate); err != nil {
		if errkind.Is(err, errkind.UserDeclined) {
			c.report(progress.StateRejected, "wallet declined authorization", common.Hash{})
			return Result{State: StateRejected, Err: err}
		}
		return c.failed(common.Hash{}, err)
	}

	c.report(progress.StateSubmitting, "submitting lock transaction", common.Hash{})
	txHash, err := c.submitLock(ctx, candidate)
	if err != nil {
		if errkind.Is(err, errkind.UserDeclined) {
			c.report(progress.StateRejected, "wallet declined lock", common.Hash{})
			return Result{State: StateRejected, Err: err}
		}
		return c.failed(txHash, err)
	}

	c.report(progress.StateAwaitingFinality, "awaiting lock finality", txHash)
	if err := c.confirmLock(ctx, candidate, txHash); err != nil {
		return c.failed(txHash, err)
	}

	c.log.Info("stake established for candidate %s, tx %s", candidate, txHash)
	c.report(progress.StateEstablished, "escrow established", txHash)
	return Result{State: StateEstablished, TxRef: txHash}
}

// verifyEnvironment fails fast on configuration level problems: wrong
// network, no ledger code at the configured address.
func (c *Coordinator) verifyEnvironment(ctx context.Context) error {
	chainID, err := c.cfg.Client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("reading chain id: %w", err)
	}
	if chainID != c.cfg.ChainID {
		return errkind.Newf(errkind.NetworkMismatch, "connected chain %d, required chain %d", chainID, c.cfg.ChainID)
	}
	deployed, err := c.cfg.Client.LedgerDeployed(ctx, c.cfg.LedgerAddress)
	if err != nil {
		return fmt.Errorf("probing ledger address: %w", err)
	}
	if !deployed {
		return errkind.Newf(errkind.ContractNotFound, "no escrow ledger deployed at %s", c.cfg.LedgerAddress)
	}
	return nil
}

// ensureAllowance submits an authorization increase when the candidate's
// standing allowance is below the stake amount. Skipped entirely when a
// sufficient authorization already exists.
func (c *Coordinator) ensureAllowance(ctx context.Context, candidate common.Address) error {
	allowance, err := c.cfg.Client.AllowanceOf(ctx, candidate)
	if err != nil {
		return fmt.Errorf("reading allowance: %w", err)
	}
	if !allowance.Lt(c.cfg.StakeAmount) {
		c.log.Debug("allowance %s sufficient, skipping authorization", allowance)
		return nil
	}
	balance, err := c.cfg.Client.BalanceOf(ctx, candidate)
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	if balance.Lt(c.cfg.StakeAmount) {
		return errkind.Newf(errkind.InsufficientFunds, "balance %s below stake amount %s", balance, c.cfg.StakeAmount)
	}

	c.report(progress.StateAuthorizing, "increasing ledger authorization", common.Hash{})
	txHash, err := c.signAndSubmit(ctx, types.TxApprove, &escrow.ApproveAttributes{Amount: c.cfg.StakeAmount})
	if err != nil {
		return err
	}
	receipt, err := c.awaitReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if !receipt.Successful() {
		return errkind.Newf(errkind.Reverted, "authorization reverted: %s", receipt.RevertReason).WithTxRef(txHash.Hex())
	}
	return nil
}

func (c *Coordinator) submitLock(ctx context.Context, candidate common.Address) (common.Hash, error) {
	txHash, err := c.signAndSubmit(ctx, types.TxLock, &escrow.LockAttributes{})
	if err != nil {
		return txHash, err
	}
	return txHash, nil
}

// confirmLock waits for the lock receipt and verifies the on-chain effect is
// the one this candidate asked for. Any mismatch is a verification failure,
// never silently treated as success.
func (c *Coordinator) confirmLock(ctx context.Context, candidate common.Address, txHash common.Hash) error {
	receipt, err := c.awaitReceipt(ctx, txHash)
	if err != nil {
		// The tx may still confirm after we stop waiting, check the ledger
		// before declaring failure.
		if confirmed, eventErr := c.lockEventRecorded(ctx, candidate, txHash); eventErr == nil && confirmed {
			c.log.Info("lock tx %s confirmed via event log after receipt wait gave up", txHash)
			return nil
		}
		return err
	}
	if !receipt.Successful() {
		reason := receipt.RevertReason
		if isInsufficientFunds(reason) {
			return errkind.Newf(errkind.InsufficientFunds, "lock reverted: %s", reason).WithTxRef(txHash.Hex())
		}
		return errkind.Newf(errkind.Reverted, "lock reverted: %s", reason).WithTxRef(txHash.Hex())
	}
	if receipt.To != c.cfg.LedgerAddress {
		return errkind.Newf(errkind.VerificationFailed, "lock receipt destination %s, want ledger %s", receipt.To, c.cfg.LedgerAddress).WithTxRef(txHash.Hex())
	}
	if receipt.From != candidate {
		return errkind.Newf(errkind.VerificationFailed, "lock receipt origin %s, want candidate %s", receipt.From, candidate).WithTxRef(txHash.Hex())
	}
	return nil
}

func (c *Coordinator) signAndSubmit(ctx context.Context, txType string, attr interface{}) (common.Hash, error) {
	roundNumber, err := c.cfg.Client.GetRoundNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading round number: %w", err)
	}
	payload, err := types.NewPayload(c.cfg.ChainID, txType, c.cfg.Signer.Address(), c.cfg.LedgerAddress, attr, roundNumber+c.cfg.TxTimeoutRounds)
	if err != nil {
		return common.Hash{}, err
	}
	ownerProof, err := c.cfg.Signer.SignTx(ctx, payload)
	if err != nil {
		if errkind.Is(err, errkind.UserDeclined) {
			return common.Hash{}, err
		}
		return common.Hash{}, fmt.Errorf("signing %s transaction: %w", txType, err)
	}
	txo := &types.TransactionOrder{Payload: payload, OwnerProof: ownerProof}

	var txHash common.Hash
	err = c.cfg.Retry.Do(ctx, func() error {
		var submitErr error
		txHash, submitErr = c.cfg.Client.SubmitTransaction(ctx, txo)
		return submitErr
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("submitting %s transaction: %w", txType, err)
	}
	return txHash, nil
}

// awaitReceipt polls until the transaction is part of the chain or the wait
// gives up. The transaction cannot be cancelled once broadcast, so a timeout
// only means we stopped watching.
func (c *Coordinator) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.cfg.ConfirmTimeout)
	for {
		var receipt *types.Receipt
		err := c.cfg.Retry.Do(ctx, func() error {
			var getErr error
			receipt, getErr = c.cfg.Client.GetReceipt(ctx, txHash)
			return getErr
		})
		if err != nil {
			return nil, fmt.Errorf("reading receipt: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, errkind.Newf(errkind.Transient, "confirmation timeout for tx %s", txHash).WithTxRef(txHash.Hex())
		}
		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("confirmation interrupted: %w", ctx.Err())
		}
	}
}

func (c *Coordinator) lockEventRecorded(ctx context.Context, candidate common.Address, txHash common.Hash) (bool, error) {
	events, err := c.cfg.Client.GetEvents(ctx, candidate, 0)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.Name == types.EventLocked && e.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) failed(txHash common.Hash, err error) Result {
	c.log.Error("lock pipeline failed: %v", err)
	c.report(progress.StateFailed, err.Error(), txHash)
	return Result{State: StateFailed, TxRef: txHash, Err: err}
}

func (c *Coordinator) report(state progress.State, message string, txRef common.Hash) {
	ref := ""
	if txRef != (common.Hash{}) {
		ref = txRef.Hex()
	}
	c.cfg.Progress.Publish(progress.Update{State: state, Message: message, TxRef: ref})
}

// isInsufficientFunds matches the ledger's own revert reasons so balance and
// allowance shortfalls surface with the right classification.
func isInsufficientFunds(reason string) bool {
	return strings.Contains(reason, escrow.ErrInsufficientBalance.Error()) ||
		strings.Contains(reason, escrow.ErrInsufficientAllowance.Error())
}
