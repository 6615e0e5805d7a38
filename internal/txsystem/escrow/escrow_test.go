package escrow_test

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/stakegate/stakegate/internal/crypto"
	"github.com/stakegate/stakegate/internal/testutils"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
	"github.com/stakegate/stakegate/internal/types"
)

func TestLock_OK(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	stake := testutils.DefaultStakeAmount()

	lockTxHash := f.Lock(t)

	require.Equal(t, stake, f.Node.StakeOf(candidate))
	require.Equal(t, stake, f.Node.BalanceOf(f.Ledger))
	wantBalance := uint256.NewInt(0).Sub(testutils.InitialBalance(), stake)
	require.Equal(t, wantBalance, f.Node.BalanceOf(candidate))
	// the lock consumed the whole allowance
	require.True(t, f.Node.AllowanceOf(candidate).IsZero())

	events, err := f.Node.Events(candidate, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, types.EventLocked, events[0].Name)
	require.Equal(t, candidate, events[0].Candidate)
	require.Equal(t, stake, events[0].Amount)
	require.Equal(t, lockTxHash, events[0].TxHash)
}

func TestLock_NoAllowance(t *testing.T) {
	f := testutils.NewFixture(t)

	txHash := f.Submit(t, f.Candidate, types.TxLock, &escrow.LockAttributes{})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrInsufficientAllowance.Error())
	// nothing moved
	require.True(t, f.Node.StakeOf(f.Candidate.Address()).IsZero())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
}

func TestLock_InsufficientBalance(t *testing.T) {
	f := testutils.NewFixture(t)
	pauper, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	f.RequireSuccess(t, f.Submit(t, pauper, types.TxApprove, &escrow.ApproveAttributes{Amount: testutils.DefaultStakeAmount()}))
	txHash := f.Submit(t, pauper, types.TxLock, &escrow.LockAttributes{})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrInsufficientBalance.Error())
}

func TestLock_SecondLockRejected(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)

	f.RequireSuccess(t, f.Submit(t, f.Candidate, types.TxApprove, &escrow.ApproveAttributes{Amount: testutils.DefaultStakeAmount()}))
	txHash := f.Submit(t, f.Candidate, types.TxLock, &escrow.LockAttributes{})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrStakeAlreadyLocked.Error())
	// the stake is unchanged
	require.Equal(t, testutils.DefaultStakeAmount(), f.Node.StakeOf(f.Candidate.Address()))
}

func TestRefund_OK(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	f.Lock(t)

	txHash := f.Submit(t, f.Authority, types.TxRefund, &escrow.SettleAttributes{Candidate: candidate})
	f.RequireSuccess(t, txHash)

	require.True(t, f.Node.StakeOf(candidate).IsZero())
	require.True(t, f.Node.BalanceOf(f.Ledger).IsZero())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(candidate))

	events, err := f.Node.Events(candidate, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, types.EventRefunded, events[1].Name)
	require.Equal(t, testutils.DefaultStakeAmount(), events[1].Amount)
	require.Equal(t, txHash, events[1].TxHash)
}

func TestForfeit_OK(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	f.Lock(t)

	txHash := f.Submit(t, f.Authority, types.TxForfeit, &escrow.SettleAttributes{Candidate: candidate})
	f.RequireSuccess(t, txHash)

	require.True(t, f.Node.StakeOf(candidate).IsZero())
	require.Equal(t, testutils.DefaultStakeAmount(), f.Node.BalanceOf(f.Authority.Address()))
	wantBalance := uint256.NewInt(0).Sub(testutils.InitialBalance(), testutils.DefaultStakeAmount())
	require.Equal(t, wantBalance, f.Node.BalanceOf(candidate))

	events, err := f.Node.Events(candidate, 0)
	require.NoError(t, err)
	require.Equal(t, types.EventForfeited, events[len(events)-1].Name)
}

func TestSettle_SecondAttemptRejected(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	f.Lock(t)

	f.RequireSuccess(t, f.Submit(t, f.Authority, types.TxRefund, &escrow.SettleAttributes{Candidate: candidate}))
	// a repeated authorization must not pay out again
	txHash := f.Submit(t, f.Authority, types.TxForfeit, &escrow.SettleAttributes{Candidate: candidate})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrNoStakeFound.Error())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(candidate))
	require.True(t, f.Node.BalanceOf(f.Authority.Address()).IsZero())
}

func TestSettle_ConcurrentAuthorizationsPayOutOnce(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	f.Lock(t)

	orders := make([]*types.TransactionOrder, 8)
	for i := range orders {
		// distinct timeouts make distinct tx hashes
		payload, err := types.NewPayload(testutils.TestChainID, types.TxRefund, f.Authority.Address(), f.Ledger,
			&escrow.SettleAttributes{Candidate: candidate}, f.Node.RoundNumber()+10+uint64(i))
		require.NoError(t, err)
		hash, err := payload.Hash()
		require.NoError(t, err)
		proof, err := f.Authority.SignHash(hash.Bytes())
		require.NoError(t, err)
		orders[i] = &types.TransactionOrder{Payload: payload, OwnerProof: proof}
	}

	var wg sync.WaitGroup
	hashes := make(chan common.Hash, len(orders))
	for _, txo := range orders {
		wg.Add(1)
		go func(txo *types.TransactionOrder) {
			defer wg.Done()
			txHash, err := f.Node.Submit(txo)
			if err == nil {
				hashes <- txHash
			}
		}(txo)
	}
	wg.Wait()
	close(hashes)

	succeeded := 0
	for txHash := range hashes {
		receipt, err := f.Node.Receipt(txHash)
		require.NoError(t, err)
		require.NotNil(t, receipt)
		if receipt.Successful() {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(candidate))
}

func TestSettle_NonAuthorityRejected(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()
	f.Lock(t)

	txHash := f.Submit(t, f.Candidate, types.TxRefund, &escrow.SettleAttributes{Candidate: candidate})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrNotAuthority.Error())
	require.Equal(t, testutils.DefaultStakeAmount(), f.Node.StakeOf(candidate))
}

func TestSettle_NoStake(t *testing.T) {
	f := testutils.NewFixture(t)

	txHash := f.Submit(t, f.Authority, types.TxRefund, &escrow.SettleAttributes{Candidate: f.Candidate.Address()})
	receipt := f.RequireReverted(t, txHash)
	require.Contains(t, receipt.RevertReason, escrow.ErrNoStakeFound.Error())
}

func TestTransfer_OK(t *testing.T) {
	f := testutils.NewFixture(t)
	recipient, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	amount := uint256.NewInt(1000)
	txHash := f.Submit(t, f.Candidate, types.TxTransfer, &escrow.TransferAttributes{
		Recipient: recipient.Address(),
		Amount:    amount,
	})
	f.RequireSuccess(t, txHash)
	require.Equal(t, amount, f.Node.BalanceOf(recipient.Address()))
}

func TestApprove_ReplacesAllowance(t *testing.T) {
	f := testutils.NewFixture(t)
	candidate := f.Candidate.Address()

	f.RequireSuccess(t, f.Submit(t, f.Candidate, types.TxApprove, &escrow.ApproveAttributes{Amount: uint256.NewInt(7)}))
	require.Equal(t, uint256.NewInt(7), f.Node.AllowanceOf(candidate))
	f.RequireSuccess(t, f.Submit(t, f.Candidate, types.TxApprove, &escrow.ApproveAttributes{Amount: uint256.NewInt(3)}))
	require.Equal(t, uint256.NewInt(3), f.Node.AllowanceOf(candidate))
}
