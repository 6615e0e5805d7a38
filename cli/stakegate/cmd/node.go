package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stakegate/stakegate/internal/chain"
	"github.com/stakegate/stakegate/internal/rpc"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
)

const (
	nodeHomeDir     = "node"
	chainDbFileName = "chain.db"
	defaultChainID  = 31911
	defaultStakeWei = "500000000000000000"
	defaultRestAddr = "localhost:9654"
	flagNameAddr    = "server-addr"
	flagNameDbFile  = "db"
	flagNameChainID = "chain-id"
	flagNameLedger  = "ledger-addr"
	flagNameAuth    = "authority-addr"
	flagNameStake   = "stake-amount"
	flagNameGenesis = "genesis-file"
)

type nodeConfiguration struct {
	Base *baseConfiguration

	ServerAddr  string
	DbFile      string
	ChainID     uint64
	LedgerAddr  string
	Authority   string
	StakeAmount string
	GenesisFile string
}

func (c *nodeConfiguration) getDbFile() (string, error) {
	if c.DbFile != "" {
		return c.DbFile, nil
	}
	nodeDir := filepath.Join(c.Base.HomeDir, nodeHomeDir)
	if err := os.MkdirAll(nodeDir, 0700); err != nil { // -rwx------
		return "", err
	}
	return filepath.Join(nodeDir, chainDbFileName), nil
}

// readGenesisBalances loads the initial account balances, a JSON object of
// address to decimal amount in base units.
func (c *nodeConfiguration) readGenesisBalances() (map[common.Address]*uint256.Int, error) {
	if c.GenesisFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.GenesisFile)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid genesis file %s: %w", c.GenesisFile, err)
	}
	balances := make(map[common.Address]*uint256.Int, len(raw))
	for addr, amount := range raw {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid genesis address %q", addr)
		}
		value, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid genesis balance for %s: %w", addr, err)
		}
		balances[common.HexToAddress(addr)] = value
	}
	return balances, nil
}

func newNodeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &nodeConfiguration{Base: baseConfig}
	var nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "starts the escrow chain node",
		Long:  "starts the escrow chain node with the stake ledger deployed, and serves the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), config)
		},
	}
	nodeCmd.Flags().StringVarP(&config.ServerAddr, flagNameAddr, "s", defaultRestAddr, "REST server address")
	nodeCmd.Flags().StringVar(&config.DbFile, flagNameDbFile, "", fmt.Sprintf("path to the chain database (default $STAKEGATE_HOME/%s/%s)", nodeHomeDir, chainDbFileName))
	nodeCmd.Flags().Uint64Var(&config.ChainID, flagNameChainID, defaultChainID, "chain identifier")
	nodeCmd.Flags().StringVar(&config.LedgerAddr, flagNameLedger, "", "stake ledger address (hex)")
	nodeCmd.Flags().StringVar(&config.Authority, flagNameAuth, "", "settlement authority address (hex)")
	nodeCmd.Flags().StringVar(&config.StakeAmount, flagNameStake, defaultStakeWei, "fixed stake amount in base units")
	nodeCmd.Flags().StringVar(&config.GenesisFile, flagNameGenesis, "", "JSON file with initial account balances")
	_ = nodeCmd.MarkFlagRequired(flagNameLedger)
	_ = nodeCmd.MarkFlagRequired(flagNameAuth)
	return nodeCmd
}

func runNode(ctx context.Context, config *nodeConfiguration) error {
	log := config.Base.Logger.WithModule("node")

	if !common.IsHexAddress(config.LedgerAddr) {
		return fmt.Errorf("invalid ledger address %q", config.LedgerAddr)
	}
	if !common.IsHexAddress(config.Authority) {
		return fmt.Errorf("invalid authority address %q", config.Authority)
	}
	stakeAmount, err := uint256.FromDecimal(config.StakeAmount)
	if err != nil {
		return fmt.Errorf("invalid stake amount %q: %w", config.StakeAmount, err)
	}
	balances, err := config.readGenesisBalances()
	if err != nil {
		return err
	}

	module, err := escrow.NewEscrowModule(&escrow.Options{
		Address:         common.HexToAddress(config.LedgerAddr),
		Authority:       common.HexToAddress(config.Authority),
		StakeAmount:     stakeAmount,
		InitialBalances: balances,
	})
	if err != nil {
		return fmt.Errorf("creating escrow module: %w", err)
	}

	dbFile, err := config.getDbFile()
	if err != nil {
		return err
	}
	store, err := chain.NewBoltStore(dbFile)
	if err != nil {
		return fmt.Errorf("opening chain store: %w", err)
	}
	defer store.Close()

	node, err := chain.NewNode(config.ChainID, module, store, config.Base.Logger)
	if err != nil {
		return fmt.Errorf("creating chain node: %w", err)
	}

	log.Info("starting node: chain %d, ledger %s, authority %s", config.ChainID, config.LedgerAddr, config.Authority)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rpc.Run(ctx, config.ServerAddr, node, config.Base.Logger)
	})
	return g.Wait()
}
