// Package settle resolves an established stake to refunded or penalized,
// exactly once, based on an externally produced verdict.
package settle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/stakegate/stakegate/internal/crypto"
	"github.com/stakegate/stakegate/internal/retry"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/client"
	"github.com/stakegate/stakegate/pkg/errkind"
	"github.com/stakegate/stakegate/pkg/logger"
	"github.com/stakegate/stakegate/pkg/progress"
)

const (
	defaultTxTimeoutRounds = 10
	defaultPollInterval    = 500 * time.Millisecond
	defaultConfirmTimeout  = 2 * time.Minute
)

type (
	// Recorder is notified exactly once per terminal transition.
	Recorder interface {
		Record(ctx context.Context, input *SettlementInput, result *SettlementResult)
	}

	Config struct {
		Client        client.ChainClient
		Authority     crypto.Signer
		LedgerAddress common.Address
		ChainID       uint64
		Archive       Archive

		Recorder Recorder
		Retry    retry.Policy
		Progress *progress.Reporter
		Log      *logger.Logger

		TxTimeoutRounds uint64
		PollInterval    time.Duration
		ConfirmTimeout  time.Duration
	}

	Coordinator struct {
		cfg    Config
		log    *logger.Logger
		single singleflight.Group
	}
)

func New(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errors.New("chain client is nil")
	}
	if cfg.Authority == nil {
		return nil, errors.New("authority signer is nil")
	}
	if cfg.LedgerAddress == (common.Address{}) {
		return nil, errors.New("ledger address is missing")
	}
	if cfg.Archive == nil {
		cfg.Archive = NewMemArchive()
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
	return &Coordinator{cfg: cfg, log: log.WithModule("settle")}, nil
}

// Settle runs the settlement pipeline for one stake. Concurrent calls for
// the same candidate collapse into a single in-flight attempt; the ledger's
// zero-balance guard would stop a double payout anyway, but a duplicate
// trigger should not waste a transaction either.
func (c *Coordinator) Settle(ctx context.Context, input *SettlementInput) (*SettlementResult, error) {
	if input == nil {
		return nil, errors.New("settlement input is nil")
	}
	v, err, _ := c.single.Do(input.Candidate.Hex(), func() (interface{}, error) {
		return c.settle(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SettlementResult), nil
}

func (c *Coordinator) settle(ctx context.Context, input *SettlementInput) (*SettlementResult, error) {
	c.report(progress.StatePreparing, "validating settlement request", "")

	verdict, archived, err := c.prepare(ctx, input)
	if err != nil {
		return c.failed(ctx, input, "", err), nil
	}
	if archived != nil {
		c.log.Info("stake for %s already settled, returning archived result", input.Candidate)
		c.report(progress.StateSettled, "stake already settled", archived.TxRef)
		return archived, nil
	}

	txType := types.TxForfeit
	tokensStatus := TokensPenalized
	eventName := types.EventForfeited
	if verdict.Status == VerdictPass {
		txType = types.TxRefund
		tokensStatus = TokensRefunded
		eventName = types.EventRefunded
	}

	c.report(progress.StateExecuting, fmt.Sprintf("authorizing %s", tokensStatus), "")
	txHash, err := c.execute(ctx, input, txType)
	if err != nil {
		// no tx exists when execute failed before broadcast
		txRef := ""
		if txHash != (common.Hash{}) {
			txRef = txHash.Hex()
		}
		return c.failed(ctx, input, txRef, err), nil
	}

	c.report(progress.StateAwaitingFinality, "awaiting settlement finality", txHash.Hex())
	if err := c.confirm(ctx, input, txHash, eventName); err != nil {
		return c.failed(ctx, input, txHash.Hex(), err), nil
	}

	result := &SettlementResult{
		Success:       true,
		TxRef:         txHash.Hex(),
		TokensStatus:  tokensStatus,
		VerdictStatus: verdict.Status,
		CompletedAt:   time.Now().UTC(),
	}
	if err := c.cfg.Archive.Put(input.Candidate, result); err != nil {
		c.log.Error("failed to archive settlement result for %s: %v", input.Candidate, err)
	}
	c.log.Info("stake for %s settled as %s, tx %s", input.Candidate, tokensStatus, txHash)
	c.report(progress.StateSettled, fmt.Sprintf("stake %s", tokensStatus), txHash.Hex())
	c.record(ctx, input, result)
	return result, nil
}

// prepare validates the request and the ledger state without touching the
// chain's write path. A non-nil archived result means the stake is already
// settled and the recorded outcome should be returned as-is.
func (c *Coordinator) prepare(ctx context.Context, input *SettlementInput) (Verdict, *SettlementResult, error) {
	verdict, err := NewVerdict(input.VerdictScore, input.VerdictStatus)
	if err != nil {
		return Verdict{}, nil, err
	}
	if input.Candidate == (common.Address{}) {
		return Verdict{}, nil, errkind.New(errkind.InvalidVerdict, "candidate address is missing")
	}
	if input.LedgerAddress != c.cfg.LedgerAddress {
		return Verdict{}, nil, errkind.Newf(errkind.ContractNotFound, "request ledger %s does not match configured ledger %s", input.LedgerAddress, c.cfg.LedgerAddress)
	}
	if input.AuthorityAddress != c.cfg.Authority.Address() {
		return Verdict{}, nil, errkind.Newf(errkind.NotAuthority, "request authority %s does not match signing authority %s", input.AuthorityAddress, c.cfg.Authority.Address())
	}

	chainID, err := c.cfg.Client.ChainID(ctx)
	if err != nil {
		return Verdict{}, nil, fmt.Errorf("reading chain id: %w", err)
	}
	if chainID != c.cfg.ChainID {
		return Verdict{}, nil, errkind.Newf(errkind.NetworkMismatch, "connected chain %d, required chain %d", chainID, c.cfg.ChainID)
	}
	deployed, err := c.cfg.Client.LedgerDeployed(ctx, c.cfg.LedgerAddress)
	if err != nil {
		return Verdict{}, nil, fmt.Errorf("probing ledger address: %w", err)
	}
	if !deployed {
		return Verdict{}, nil, errkind.Newf(errkind.ContractNotFound, "no escrow ledger deployed at %s", c.cfg.LedgerAddress)
	}

	// The stake must still be live immediately before authorizing. A zero
	// balance together with an archived result is the short-circuit path, a
	// zero balance without one means there is nothing to settle.
	stake, err := c.cfg.Client.StakeOf(ctx, input.Candidate)
	if err != nil {
		return Verdict{}, nil, fmt.Errorf("reading stake: %w", err)
	}
	if stake.IsZero() {
		archived, err := c.cfg.Archive.Get(input.Candidate)
		if err != nil {
			return Verdict{}, nil, fmt.Errorf("reading settlement archive: %w", err)
		}
		if archived != nil {
			return Verdict{}, archived, nil
		}
		return Verdict{}, nil, errkind.Newf(errkind.NoStakeFound, "no active stake for candidate %s", input.Candidate)
	}
	return verdict, nil, nil
}

func (c *Coordinator) execute(ctx context.Context, input *SettlementInput, txType string) (common.Hash, error) {
	roundNumber, err := c.cfg.Client.GetRoundNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading round number: %w", err)
	}
	payload, err := types.NewPayload(
		c.cfg.ChainID, txType, c.cfg.Authority.Address(), c.cfg.LedgerAddress,
		&escrow.SettleAttributes{Candidate: input.Candidate}, roundNumber+c.cfg.TxTimeoutRounds,
	)
	if err != nil {
		return common.Hash{}, err
	}
	payloadHash, err := payload.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	ownerProof, err := c.cfg.Authority.SignHash(payloadHash.Bytes())
	if err != nil {
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

// confirm waits for the settlement receipt, then independently re-verifies
// the ledger's event log before declaring the stake settled. The
// coordinator does not trust its own submission success alone.
func (c *Coordinator) confirm(ctx context.Context, input *SettlementInput, txHash common.Hash, eventName string) error {
	receipt, err := c.awaitReceipt(ctx, txHash)
	if err != nil {
		// The tx cannot be cancelled once broadcast. Re-check the ledger
		// before declaring failure, it may have confirmed after the wait
		// gave up.
		if settled, checkErr := c.settlementEventRecorded(ctx, input.Candidate, txHash, eventName, 0); checkErr == nil && settled {
			c.log.Info("settlement tx %s confirmed via event log after receipt wait gave up", txHash)
			return nil
		}
		return err
	}
	if !receipt.Successful() {
		if strings.Contains(receipt.RevertReason, escrow.ErrNoStakeFound.Error()) {
			return errkind.Newf(errkind.NoStakeFound, "settlement reverted: %s", receipt.RevertReason).WithTxRef(txHash.Hex())
		}
		if strings.Contains(receipt.RevertReason, escrow.ErrNotAuthority.Error()) {
			return errkind.Newf(errkind.NotAuthority, "settlement reverted: %s", receipt.RevertReason).WithTxRef(txHash.Hex())
		}
		return errkind.Newf(errkind.Reverted, "settlement reverted: %s", receipt.RevertReason).WithTxRef(txHash.Hex())
	}
	if receipt.To != c.cfg.LedgerAddress {
		return errkind.Newf(errkind.VerificationFailed, "settlement receipt destination %s, want ledger %s", receipt.To, c.cfg.LedgerAddress).WithTxRef(txHash.Hex())
	}
	if receipt.From != c.cfg.Authority.Address() {
		return errkind.Newf(errkind.VerificationFailed, "settlement receipt origin %s, want authority %s", receipt.From, c.cfg.Authority.Address()).WithTxRef(txHash.Hex())
	}

	settled, err := c.settlementEventRecorded(ctx, input.Candidate, txHash, eventName, receipt.BlockNumber)
	if err != nil {
		return fmt.Errorf("re-verifying event log: %w", err)
	}
	if !settled {
		return errkind.Newf(errkind.VerificationFailed, "%s event for candidate %s absent from ledger log", eventName, input.Candidate).WithTxRef(txHash.Hex())
	}
	return nil
}

// settlementEventRecorded checks the ledger's own audit trail for the
// settlement event. With maxBlock > 0 the event must sit at or before that
// finality position.
func (c *Coordinator) settlementEventRecorded(ctx context.Context, candidate common.Address, txHash common.Hash, eventName string, maxBlock uint64) (bool, error) {
	var events []*types.Event
	err := c.cfg.Retry.Do(ctx, func() error {
		var getErr error
		events, getErr = c.cfg.Client.GetEvents(ctx, candidate, 0)
		return getErr
	})
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.Name != eventName || e.TxHash != txHash {
			continue
		}
		if maxBlock > 0 && e.BlockNumber > maxBlock {
			continue
		}
		return true, nil
	}
	return false, nil
}

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

func (c *Coordinator) failed(ctx context.Context, input *SettlementInput, txRef string, err error) *SettlementResult {
	c.log.Error("settlement for %s failed: %v", input.Candidate, err)
	c.report(progress.StateFailed, err.Error(), txRef)
	result := &SettlementResult{
		Success:       false,
		TxRef:         txRef,
		VerdictStatus: input.VerdictStatus,
		Error:         err.Error(),
		CompletedAt:   time.Now().UTC(),
	}
	c.record(ctx, input, result)
	return result
}

func (c *Coordinator) record(ctx context.Context, input *SettlementInput, result *SettlementResult) {
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.Record(ctx, input, result)
	}
}

func (c *Coordinator) report(state progress.State, message, txRef string) {
	c.cfg.Progress.Publish(progress.Update{State: state, Message: message, TxRef: txRef})
}
