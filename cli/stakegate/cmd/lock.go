package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/stakegate/stakegate/internal/crypto"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/client"
	"github.com/stakegate/stakegate/pkg/coordinator/lock"
	"github.com/stakegate/stakegate/pkg/progress"
)

const (
	flagNameNodeURL = "node-url"
	flagNameKey     = "key"
	flagNameTimeout = "timeout"

	defaultNodeURL = "http://localhost:9654"
)

type lockConfiguration struct {
	Base *baseConfiguration

	NodeURL string
	Key     string
	Timeout time.Duration
}

func newLockCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &lockConfiguration{Base: baseConfig}
	var lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "locks the caller's stake in the ledger",
		Long:  "grants the ledger an allowance for the fixed stake amount and locks it, establishing escrow for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd.Context(), config)
		},
	}
	lockCmd.Flags().StringVarP(&config.NodeURL, flagNameNodeURL, "u", defaultNodeURL, "escrow chain node url")
	lockCmd.Flags().StringVarP(&config.Key, flagNameKey, "k", "", "candidate's secp256k1 private key (hex)")
	lockCmd.Flags().DurationVar(&config.Timeout, flagNameTimeout, 2*time.Minute, "how long to wait for confirmation")
	_ = lockCmd.MarkFlagRequired(flagNameKey)
	return lockCmd
}

func runLock(ctx context.Context, config *lockConfiguration) error {
	signer, err := signerFromHexKey(config.Key)
	if err != nil {
		return err
	}
	restClient, err := client.NewRestClient(config.NodeURL)
	if err != nil {
		return fmt.Errorf("creating node client: %w", err)
	}
	info, err := restClient.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("reading node info: %w", err)
	}
	stakeAmount, err := parseAmountFlag(info.StakeAmount)
	if err != nil {
		return fmt.Errorf("invalid stake amount from node: %w", err)
	}

	reporter := progress.NewReporter(16)
	defer reporter.Close()
	go printProgress(reporter)

	coordinator, err := lock.New(lock.Config{
		Client:         restClient,
		Signer:         &walletTxSigner{signer: signer},
		LedgerAddress:  common.HexToAddress(info.LedgerAddress),
		ChainID:        info.ChainID,
		StakeAmount:    stakeAmount,
		Progress:       reporter,
		Log:            config.Base.Logger,
		ConfirmTimeout: config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating lock coordinator: %w", err)
	}

	result := coordinator.Run(ctx)
	if result.Err != nil {
		return fmt.Errorf("lock %s: %w", strings.ToLower(string(result.State)), result.Err)
	}
	consoleWriter.Println(fmt.Sprintf("Stake locked, tx %s", result.TxRef.Hex()))
	return nil
}

// walletTxSigner adapts a plain key signer to the lock coordinator's wallet
// interface. A CLI invocation cannot decline interactively, so it never
// returns a UserDeclined error.
type walletTxSigner struct {
	signer *crypto.InMemorySecp256K1Signer
}

func (w *walletTxSigner) SignTx(_ context.Context, payload *types.Payload) ([]byte, error) {
	hash, err := payload.Hash()
	if err != nil {
		return nil, err
	}
	return w.signer.SignHash(hash.Bytes())
}

func (w *walletTxSigner) Address() common.Address {
	return w.signer.Address()
}

func signerFromHexKey(key string) (*crypto.InMemorySecp256K1Signer, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return crypto.NewInMemorySecp256K1SignerFromKey(keyBytes)
}

func parseAmountFlag(amount string) (*uint256.Int, error) {
	value, err := uint256.FromDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return value, nil
}

func printProgress(reporter *progress.Reporter) {
	for update := range reporter.Updates() {
		line := string(update.State)
		if update.Message != "" {
			line += ": " + update.Message
		}
		if update.TxRef != "" {
			line += " (tx " + update.TxRef + ")"
		}
		consoleWriter.Println(line)
	}
}
