package settle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type TokensStatus string

const (
	TokensRefunded  TokensStatus = "refunded"
	TokensPenalized TokensStatus = "penalized"
)

type (
	// SettlementInput is the request consumed from the evaluator side.
	SettlementInput struct {
		Candidate        common.Address `json:"candidate"`
		VerdictScore     uint8          `json:"verdictScore"`
		VerdictStatus    VerdictStatus  `json:"verdictStatus"`
		LedgerAddress    common.Address `json:"ledgerAddress"`
		StakeAmount      string         `json:"stakeAmount"`
		AuthorityAddress common.Address `json:"authorityAddress"`
		SessionID        string         `json:"sessionId"`
		SubjectID        string         `json:"subjectId"`
	}

	// SettlementResult is the immutable terminal outcome of one stake.
	SettlementResult struct {
		Success       bool          `json:"success"`
		TxRef         string        `json:"txRef,omitempty"`
		TokensStatus  TokensStatus  `json:"tokensStatus,omitempty"`
		VerdictStatus VerdictStatus `json:"verdictStatus"`
		Error         string        `json:"error,omitempty"`
		CompletedAt   time.Time     `json:"completedAt"`
	}
)
