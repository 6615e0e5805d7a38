package testutils

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/stakegate/stakegate/internal/chain"
	"github.com/stakegate/stakegate/internal/crypto"
	"github.com/stakegate/stakegate/internal/txsystem/escrow"
	"github.com/stakegate/stakegate/internal/types"
)

const (
	TestChainID = uint64(31911)
)

// DefaultStakeAmount is 0.5 units in 18 decimal base units.
func DefaultStakeAmount() *uint256.Int {
	return uint256.MustFromDecimal("500000000000000000")
}

func InitialBalance() *uint256.Int {
	return uint256.MustFromDecimal("10000000000000000000")
}

// Fixture is a fully wired single-node chain with a funded candidate and
// the settlement authority.
type Fixture struct {
	Node      *chain.Node
	Ledger    common.Address
	Authority *crypto.InMemorySecp256K1Signer
	Candidate *crypto.InMemorySecp256K1Signer
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	authority, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	candidate, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	ledger := common.HexToAddress("0x00000000000000000000000000000000000e5c70")
	module, err := escrow.NewEscrowModule(&escrow.Options{
		Address:     ledger,
		Authority:   authority.Address(),
		StakeAmount: DefaultStakeAmount(),
		InitialBalances: map[common.Address]*uint256.Int{
			candidate.Address(): InitialBalance(),
		},
	})
	require.NoError(t, err)

	node, err := chain.NewNode(TestChainID, module, chain.NewMemStore(), nil)
	require.NoError(t, err)

	return &Fixture{
		Node:      node,
		Ledger:    ledger,
		Authority: authority,
		Candidate: candidate,
	}
}

// SignedTx builds and signs a transaction order against the fixture ledger.
func (f *Fixture) SignedTx(t *testing.T, signer *crypto.InMemorySecp256K1Signer, txType string, attr interface{}) *types.TransactionOrder {
	t.Helper()
	payload, err := types.NewPayload(TestChainID, txType, signer.Address(), f.Ledger, attr, f.Node.RoundNumber()+10)
	require.NoError(t, err)
	hash, err := payload.Hash()
	require.NoError(t, err)
	proof, err := signer.SignHash(hash.Bytes())
	require.NoError(t, err)
	return &types.TransactionOrder{Payload: payload, OwnerProof: proof}
}

// Submit signs and submits, requiring broadcast acceptance (the receipt may
// still report a revert).
func (f *Fixture) Submit(t *testing.T, signer *crypto.InMemorySecp256K1Signer, txType string, attr interface{}) common.Hash {
	t.Helper()
	txHash, err := f.Node.Submit(f.SignedTx(t, signer, txType, attr))
	require.NoError(t, err)
	return txHash
}

// Lock funds escrow for the fixture candidate: approve then lock, both
// required to succeed.
func (f *Fixture) Lock(t *testing.T) common.Hash {
	t.Helper()
	f.RequireSuccess(t, f.Submit(t, f.Candidate, types.TxApprove, &escrow.ApproveAttributes{Amount: DefaultStakeAmount()}))
	txHash := f.Submit(t, f.Candidate, types.TxLock, &escrow.LockAttributes{})
	f.RequireSuccess(t, txHash)
	return txHash
}

func (f *Fixture) RequireSuccess(t *testing.T, txHash common.Hash) *types.Receipt {
	t.Helper()
	receipt, err := f.Node.Receipt(txHash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.True(t, receipt.Successful(), "tx reverted: %s", receipt.RevertReason)
	return receipt
}

func (f *Fixture) RequireReverted(t *testing.T, txHash common.Hash) *types.Receipt {
	t.Helper()
	receipt, err := f.Node.Receipt(txHash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.False(t, receipt.Successful())
	return receipt
}

// Ctx returns a context cancelled at test cleanup.
func Ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
