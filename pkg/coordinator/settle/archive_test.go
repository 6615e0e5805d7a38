package settle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func testResult() *SettlementResult {
	return &SettlementResult{
		Success:       true,
		TxRef:         "0x0101",
		TokensStatus:  TokensRefunded,
		VerdictStatus: VerdictPass,
		CompletedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemArchive(t *testing.T) {
	archive := NewMemArchive()
	candidate := common.HexToAddress("0x01")

	got, err := archive.Get(candidate)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, archive.Put(candidate, testResult()))
	got, err = archive.Get(candidate)
	require.NoError(t, err)
	require.Equal(t, testResult(), got)
}

func TestBoltArchive_SurvivesReopen(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "settlements.db")
	archive, err := NewBoltArchive(dbFile)
	require.NoError(t, err)
	candidate := common.HexToAddress("0x02")

	got, err := archive.Get(candidate)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, archive.Put(candidate, testResult()))
	require.NoError(t, archive.Close())

	archive, err = NewBoltArchive(dbFile)
	require.NoError(t, err)
	defer archive.Close()

	got, err = archive.Get(candidate)
	require.NoError(t, err)
	require.Equal(t, testResult(), got)
}
