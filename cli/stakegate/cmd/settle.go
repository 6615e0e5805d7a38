package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/stakegate/stakegate/pkg/client"
	"github.com/stakegate/stakegate/pkg/coordinator/settle"
	"github.com/stakegate/stakegate/pkg/progress"
)

const (
	settleHomeDir     = "settle"
	archiveDbFileName = "settlements.db"
	flagNameCandidate = "candidate"
	flagNameScore     = "score"
	flagNameStatus    = "status"
	flagNameSessionID = "session-id"
	flagNameSubjectID = "subject-id"
	flagNameArchiveDb = "archive-db"
)

type settleConfiguration struct {
	Base *baseConfiguration

	NodeURL   string
	Key       string
	Candidate string
	Score     uint8
	Status    string
	SessionID string
	SubjectID string
	ArchiveDb string
	Timeout   time.Duration
}

func (c *settleConfiguration) getArchiveDbFile() (string, error) {
	if c.ArchiveDb != "" {
		return c.ArchiveDb, nil
	}
	settleDir := filepath.Join(c.Base.HomeDir, settleHomeDir)
	if err := os.MkdirAll(settleDir, 0700); err != nil { // -rwx------
		return "", err
	}
	return filepath.Join(settleDir, archiveDbFileName), nil
}

func newSettleCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &settleConfiguration{Base: baseConfig}
	var settleCmd = &cobra.Command{
		Use:   "settle",
		Short: "settles a candidate's stake based on a verdict",
		Long:  "authorizes refund or forfeiture of a locked stake as the settlement authority, based on the interview verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(cmd.Context(), config)
		},
	}
	settleCmd.Flags().StringVarP(&config.NodeURL, flagNameNodeURL, "u", defaultNodeURL, "escrow chain node url")
	settleCmd.Flags().StringVarP(&config.Key, flagNameKey, "k", "", "settlement authority's secp256k1 private key (hex)")
	settleCmd.Flags().StringVar(&config.Candidate, flagNameCandidate, "", "candidate address (hex)")
	settleCmd.Flags().Uint8Var(&config.Score, flagNameScore, 0, "interview score, 0..100")
	settleCmd.Flags().StringVar(&config.Status, flagNameStatus, "", "verdict status override (pass|fail); derived from score when empty")
	settleCmd.Flags().StringVar(&config.SessionID, flagNameSessionID, "", "interview session identifier")
	settleCmd.Flags().StringVar(&config.SubjectID, flagNameSubjectID, "", "interview subject identifier")
	settleCmd.Flags().StringVar(&config.ArchiveDb, flagNameArchiveDb, "", fmt.Sprintf("path to the settlement archive (default $STAKEGATE_HOME/%s/%s)", settleHomeDir, archiveDbFileName))
	settleCmd.Flags().DurationVar(&config.Timeout, flagNameTimeout, 2*time.Minute, "how long to wait for confirmation")
	_ = settleCmd.MarkFlagRequired(flagNameKey)
	_ = settleCmd.MarkFlagRequired(flagNameCandidate)
	_ = settleCmd.MarkFlagRequired(flagNameScore)
	return settleCmd
}

func runSettle(ctx context.Context, config *settleConfiguration) error {
	signer, err := signerFromHexKey(config.Key)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(config.Candidate) {
		return fmt.Errorf("invalid candidate address %q", config.Candidate)
	}
	verdict, err := buildVerdict(config.Score, config.Status)
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

	archiveDbFile, err := config.getArchiveDbFile()
	if err != nil {
		return err
	}
	archive, err := settle.NewBoltArchive(archiveDbFile)
	if err != nil {
		return fmt.Errorf("opening settlement archive: %w", err)
	}
	defer archive.Close()

	reporter := progress.NewReporter(16)
	defer reporter.Close()
	go printProgress(reporter)

	coordinator, err := settle.New(settle.Config{
		Client:         restClient,
		Authority:      signer,
		LedgerAddress:  common.HexToAddress(info.LedgerAddress),
		ChainID:        info.ChainID,
		Archive:        archive,
		Progress:       reporter,
		Log:            config.Base.Logger,
		ConfirmTimeout: config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating settlement coordinator: %w", err)
	}

	result, err := coordinator.Settle(ctx, &settle.SettlementInput{
		Candidate:        common.HexToAddress(config.Candidate),
		VerdictScore:     verdict.Score,
		VerdictStatus:    verdict.Status,
		LedgerAddress:    common.HexToAddress(info.LedgerAddress),
		StakeAmount:      info.StakeAmount,
		AuthorityAddress: signer.Address(),
		SessionID:        config.SessionID,
		SubjectID:        config.SubjectID,
	})
	if err != nil {
		return fmt.Errorf("settlement failed: %w", err)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	consoleWriter.Println(string(out))
	if !result.Success {
		return fmt.Errorf("settlement failed: %s", result.Error)
	}
	return nil
}

func buildVerdict(score uint8, status string) (settle.Verdict, error) {
	if status == "" {
		return settle.VerdictFromScore(score)
	}
	return settle.NewVerdict(score, settle.VerdictStatus(status))
}
