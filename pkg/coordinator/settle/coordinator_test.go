package settle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/stakegate/stakegate/internal/retry"
	"github.com/stakegate/stakegate/internal/testutils"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/client"
	"github.com/stakegate/stakegate/pkg/coordinator/settle"
	"github.com/stakegate/stakegate/pkg/errkind"
)

type recordingRecorder struct {
	mu      sync.Mutex
	results []*settle.SettlementResult
}

func (r *recordingRecorder) Record(_ context.Context, _ *settle.SettlementInput, result *settle.SettlementResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// countingClient records every submitted transaction type.
type countingClient struct {
	client.ChainClient
	mu        sync.Mutex
	submitted []string
}

func (c *countingClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	c.mu.Lock()
	c.submitted = append(c.submitted, txo.Payload.Type)
	c.mu.Unlock()
	return c.ChainClient.SubmitTransaction(ctx, txo)
}

func (c *countingClient) submittedTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.submitted...)
}

// pendingReceiptClient never returns a receipt, as if the provider lost
// track of the transaction after broadcast.
type pendingReceiptClient struct {
	client.ChainClient
}

func (c *pendingReceiptClient) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}

// flakySubmitClient fails the first submissions with a transient error
// before the order reaches the node.
type flakySubmitClient struct {
	client.ChainClient
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *flakySubmitClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return common.Hash{}, errkind.New(errkind.Transient, "connection reset")
	}
	return c.ChainClient.SubmitTransaction(ctx, txo)
}

func (c *flakySubmitClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// lostResponseClient lets the order through to the node but loses the
// response, as a gateway timeout after execution would.
type lostResponseClient struct {
	client.ChainClient
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *lostResponseClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	txHash, err := c.ChainClient.SubmitTransaction(ctx, txo)
	c.mu.Lock()
	c.calls++
	lost := c.calls <= c.failures
	c.mu.Unlock()
	if lost {
		return common.Hash{}, errkind.New(errkind.Transient, "connection reset")
	}
	return txHash, err
}

// brokenSubmitClient rejects every submission outright.
type brokenSubmitClient struct {
	client.ChainClient
}

func (c *brokenSubmitClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	return common.Hash{}, errkind.New(errkind.Reverted, "node rejected the order")
}

// eventlessClient hides the ledger event log.
type eventlessClient struct {
	client.ChainClient
}

func (c *eventlessClient) GetEvents(ctx context.Context, candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	return nil, nil
}

type testEnv struct {
	fixture     *testutils.Fixture
	coordinator *settle.Coordinator
	recorder    *recordingRecorder
}

func newEnv(t *testing.T, f *testutils.Fixture, chainClient client.ChainClient) *testEnv {
	t.Helper()
	recorder := &recordingRecorder{}
	c, err := settle.New(settle.Config{
		Client:         chainClient,
		Authority:      f.Authority,
		LedgerAddress:  f.Ledger,
		ChainID:        testutils.TestChainID,
		Recorder:       recorder,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &testEnv{fixture: f, coordinator: c, recorder: recorder}
}

func (e *testEnv) input(score uint8, status settle.VerdictStatus) *settle.SettlementInput {
	return &settle.SettlementInput{
		Candidate:        e.fixture.Candidate.Address(),
		VerdictScore:     score,
		VerdictStatus:    status,
		LedgerAddress:    e.fixture.Ledger,
		StakeAmount:      testutils.DefaultStakeAmount().ToBig().String(),
		AuthorityAddress: e.fixture.Authority.Address(),
		SessionID:        "session-1",
		SubjectID:        "subject-1",
	}
}

func TestSettle_RefundsOnPass(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, client.NewInProcClient(f.Node))

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, settle.TokensRefunded, result.TokensStatus)
	require.Equal(t, settle.VerdictPass, result.VerdictStatus)
	require.NotEmpty(t, result.TxRef)

	require.True(t, f.Node.StakeOf(f.Candidate.Address()).IsZero())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
	require.Equal(t, 1, env.recorder.count())
}

func TestSettle_ForfeitsOnFail(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, client.NewInProcClient(f.Node))

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(40, settle.VerdictFail))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, settle.TokensPenalized, result.TokensStatus)

	require.True(t, f.Node.StakeOf(f.Candidate.Address()).IsZero())
	require.Equal(t, testutils.DefaultStakeAmount(), f.Node.BalanceOf(f.Authority.Address()))
	wantBalance := uint256.NewInt(0).Sub(testutils.InitialBalance(), testutils.DefaultStakeAmount())
	require.Equal(t, wantBalance, f.Node.BalanceOf(f.Candidate.Address()))
}

func TestSettle_SecondCallReturnsArchivedResult(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	counting := &countingClient{ChainClient: client.NewInProcClient(f.Node)}
	env := newEnv(t, f, counting)
	ctx := testutils.Ctx(t)

	first, err := env.coordinator.Settle(ctx, env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.True(t, first.Success)

	// a duplicate trigger, even with a contradicting verdict, must not move
	// funds again
	second, err := env.coordinator.Settle(ctx, env.input(10, settle.VerdictFail))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, []string{types.TxRefund}, counting.submittedTypes())
	require.Equal(t, 1, env.recorder.count())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
}

func TestSettle_ConcurrentTriggersCollapse(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	counting := &countingClient{ChainClient: client.NewInProcClient(f.Node)}
	env := newEnv(t, f, counting)
	ctx := testutils.Ctx(t)

	var wg sync.WaitGroup
	results := make([]*settle.SettlementResult, 4)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.coordinator.Settle(ctx, env.input(80, settle.VerdictPass))
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		require.NoError(t, errs[i])
		require.True(t, result.Success)
		require.Equal(t, results[0].TxRef, result.TxRef)
	}
	require.Equal(t, []string{types.TxRefund}, counting.submittedTypes())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
}

func TestSettle_RetriesTransientSubmission(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	flaky := &flakySubmitClient{ChainClient: client.NewInProcClient(f.Node), failures: 2}
	env := newEnv(t, f, flaky)

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, settle.TokensRefunded, result.TokensStatus)
	require.Equal(t, 3, flaky.callCount())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
}

func TestSettle_LostSubmitResponseDoesNotDoubleSettle(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	lossy := &lostResponseClient{ChainClient: client.NewInProcClient(f.Node), failures: 2}
	env := newEnv(t, f, lossy)

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, settle.TokensRefunded, result.TokensStatus)

	// the ledger applied the refund exactly once despite three submissions
	require.True(t, f.Node.StakeOf(f.Candidate.Address()).IsZero())
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
	events, err := f.Node.Events(f.Candidate.Address(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, 1, env.recorder.count())
}

func TestSettle_FailedBeforeBroadcastOmitsTxRef(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, &brokenSubmitClient{ChainClient: client.NewInProcClient(f.Node)})

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, result.TxRef)
	require.Equal(t, 1, env.recorder.count())
}

func TestSettle_NoStake(t *testing.T) {
	f := testutils.NewFixture(t)
	env := newEnv(t, f, client.NewInProcClient(f.Node))

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, errkind.NoStakeFound.String())
	require.Equal(t, 1, env.recorder.count())
}

func TestSettle_InvalidVerdictRejected(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	counting := &countingClient{ChainClient: client.NewInProcClient(f.Node)}
	env := newEnv(t, f, counting)

	input := env.input(120, settle.VerdictPass)
	result, err := env.coordinator.Settle(testutils.Ctx(t), input)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, errkind.InvalidVerdict.String())
	// nothing was submitted, the stake stays live
	require.Empty(t, counting.submittedTypes())
	require.Equal(t, testutils.DefaultStakeAmount(), f.Node.StakeOf(f.Candidate.Address()))
}

func TestSettle_MismatchedAuthorityRejected(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, client.NewInProcClient(f.Node))

	input := env.input(80, settle.VerdictPass)
	input.AuthorityAddress = common.HexToAddress("0x000000000000000000000000000000000000beef")
	result, err := env.coordinator.Settle(testutils.Ctx(t), input)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, errkind.NotAuthority.String())
}

func TestSettle_LostReceiptRecoversViaEventLog(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, &pendingReceiptClient{ChainClient: client.NewInProcClient(f.Node)})

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, settle.TokensRefunded, result.TokensStatus)
	require.Equal(t, testutils.InitialBalance(), f.Node.BalanceOf(f.Candidate.Address()))
}

func TestSettle_MissingEventFailsVerification(t *testing.T) {
	f := testutils.NewFixture(t)
	f.Lock(t)
	env := newEnv(t, f, &eventlessClient{ChainClient: client.NewInProcClient(f.Node)})

	result, err := env.coordinator.Settle(testutils.Ctx(t), env.input(80, settle.VerdictPass))
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, errkind.VerificationFailed.String())
}
