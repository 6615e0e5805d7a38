package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/stakegate/stakegate/pkg/client"
)

type stakeOfConfiguration struct {
	Base *baseConfiguration

	NodeURL   string
	Candidate string
}

func newStakeOfCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &stakeOfConfiguration{Base: baseConfig}
	var stakeOfCmd = &cobra.Command{
		Use:   "stake-of",
		Short: "prints a candidate's staked amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStakeOf(cmd.Context(), config)
		},
	}
	stakeOfCmd.Flags().StringVarP(&config.NodeURL, flagNameNodeURL, "u", defaultNodeURL, "escrow chain node url")
	stakeOfCmd.Flags().StringVar(&config.Candidate, flagNameCandidate, "", "candidate address (hex)")
	_ = stakeOfCmd.MarkFlagRequired(flagNameCandidate)
	return stakeOfCmd
}

func runStakeOf(ctx context.Context, config *stakeOfConfiguration) error {
	if !common.IsHexAddress(config.Candidate) {
		return fmt.Errorf("invalid candidate address %q", config.Candidate)
	}
	restClient, err := client.NewRestClient(config.NodeURL)
	if err != nil {
		return fmt.Errorf("creating node client: %w", err)
	}
	stake, err := restClient.StakeOf(ctx, common.HexToAddress(config.Candidate))
	if err != nil {
		return fmt.Errorf("reading stake: %w", err)
	}
	consoleWriter.Println(stake.ToBig().String())
	return nil
}
