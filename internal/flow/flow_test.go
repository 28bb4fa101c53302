package flow

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/confirm"
	"noteflow/internal/devnet"
	"noteflow/internal/faucet"
	"noteflow/internal/journal"
	"noteflow/internal/note"
	"noteflow/internal/rng"
	"noteflow/internal/rpc"
	"noteflow/internal/txn"
)

var (
	faucetID = note.MustParseAccountID("0xd8e3fa793ea82360734ec91a98e798")
	aliceID  = note.MustParseAccountID("0xa1b2c3d4e5f6071011223344556677")
	bobID    = note.MustParseAccountID("0x0123456789abcd9001020304050607")
)

type env struct {
	node    *devnet.Node
	journal *journal.Store
	client  *Client
}

func newEnv(t *testing.T, produceOnSync bool, maxWait time.Duration) *env {
	t.Helper()
	node, err := devnet.NewNode(devnet.Config{
		PromRegistry:  prometheus.NewRegistry(),
		ProduceOnSync: produceOnSync,
	})
	require.NoError(t, err)
	j, err := journal.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	client := New(Config{
		Ledger:       node,
		Journal:      j,
		Rng:          rng.NewDeterministic([]byte(t.Name())),
		PromRegistry: prometheus.NewRegistry(),
		PollInterval: 5 * time.Millisecond,
		MaxWait:      maxWait,
	})
	return &env{node: node, journal: j, client: client}
}

func (e *env) deploy(t *testing.T, maxSupply uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.client.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID}))
	require.NoError(t, e.client.RegisterAccount(ctx, rpc.AccountRegistration{ID: bobID}))
	sym, err := faucet.NewTokenSymbol("MDE")
	require.NoError(t, err)
	f, err := faucet.NewNetworkFaucet(faucetID, sym, 8, maxSupply, aliceID)
	require.NoError(t, err)
	receipt, err := e.client.DeployFaucet(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, txn.KindScript, receipt.Kind)
}

func TestMintToAccountScenario(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.deploy(t, 1_000_000)
	ctx := context.Background()

	res, err := e.client.MintToAccount(ctx, MintRequest{
		Faucet: faucetID,
		Target: aliceID,
		Amount: 50,
		Aux:    note.NewFelt(27),
	})
	require.NoError(t, err)
	assert.Equal(t, res.P2ID.Recipient().Digest(), mustMintInputs(t, res.Mint).RecipientDigest)
	assert.Less(t, res.Issue.BlockNum, res.Consume.BlockNum)

	bal, err := e.client.Balance(ctx, aliceID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), bal)

	_, err = e.client.MintToAccount(ctx, MintRequest{
		Faucet: faucetID,
		Target: aliceID,
		Amount: 25,
		Aux:    note.NewFelt(27),
	})
	require.NoError(t, err)
	bal, err = e.client.Balance(ctx, aliceID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), bal)

	bal, err = e.client.Balance(ctx, bobID, faucetID)
	require.NoError(t, err)
	assert.Zero(t, bal)

	// deploy, two issuances and two consumptions, all settled
	pending, err := e.journal.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	entry, err := e.journal.Get(ctx, res.Consume.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.Committed(res.Consume.BlockNum), entry.Status)
	assert.Equal(t, aliceID, entry.Account)
}

func mustMintInputs(t *testing.T, n *note.Note) note.MintInputs {
	t.Helper()
	in, err := note.DecodeMintInputs(n)
	require.NoError(t, err)
	return in
}

func TestFixedSerialIsReproducible(t *testing.T) {
	e := newEnv(t, true, time.Second)
	serial := note.NewWord(1, 2, 3, 4)
	req := MintRequest{Faucet: faucetID, Target: aliceID, Amount: 10, Aux: note.NewFelt(27), Serial: &serial}

	a, _, err := e.client.BuildMintPair(req, aliceID)
	require.NoError(t, err)
	b, _, err := e.client.BuildMintPair(req, aliceID)
	require.NoError(t, err)
	assert.Equal(t, a.Commitment(), b.Commitment())
}

func TestConsumingUnfundedNoteIsDiscarded(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.deploy(t, 1_000_000)
	ctx := context.Background()

	owner, err := e.client.ResolveOwner(ctx, faucetID)
	require.NoError(t, err)
	require.Equal(t, aliceID, owner)

	funded, mint, err := e.client.BuildMintPair(MintRequest{Faucet: faucetID, Target: aliceID, Amount: 40}, owner)
	require.NoError(t, err)
	_, err = e.client.orchestrator.SubmitIssuance(ctx, faucetID, mint)
	require.NoError(t, err)

	// same assets and target, different serial: a different digest nobody minted
	unfunded, _, err := e.client.BuildMintPair(MintRequest{Faucet: faucetID, Target: aliceID, Amount: 40}, owner)
	require.NoError(t, err)
	require.NotEqual(t, funded.Recipient().Digest(), unfunded.Recipient().Digest())

	receipt, err := e.client.Consume(ctx, aliceID, unfunded)
	var discarded *confirm.DiscardedError
	require.ErrorAs(t, err, &discarded)
	assert.Contains(t, discarded.Cause, devnet.ErrNoteNotFound.Error())

	entry, err := e.journal.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusDiscarded, entry.Status.Kind)

	_, err = e.client.Consume(ctx, aliceID, funded)
	require.NoError(t, err)
	bal, err := e.client.Balance(ctx, aliceID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal)
}

func TestTimedOutSubmissionIsResumed(t *testing.T) {
	e := newEnv(t, false, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, e.client.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID}))

	sym, err := faucet.NewTokenSymbol("MDE")
	require.NoError(t, err)
	f, err := faucet.NewNetworkFaucet(faucetID, sym, 8, 100, aliceID)
	require.NoError(t, err)
	_, err = e.client.DeployFaucet(ctx, f)
	require.ErrorIs(t, err, confirm.ErrTimeout)

	pending, err := e.journal.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, faucetID, pending[0].Account)
	assert.Equal(t, txn.KindScript, pending[0].Kind)

	block, err := e.node.ProduceBlock(ctx)
	require.NoError(t, err)

	results, err := e.client.Resume(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, block, results[0].BlockNum)

	pending, err = e.journal.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEmptyConsumptionNeverReachesLedger(t *testing.T) {
	e := newEnv(t, true, time.Second)
	_, err := e.client.Consume(context.Background(), aliceID)
	require.ErrorIs(t, err, txn.ErrEmptyRequest)
	assert.Zero(t, e.node.PendingCount())
	assert.Zero(t, e.node.BlockNum())
}

type clientOnly struct {
	rpc.Client
}

func TestRegistrationNeedsRegistrar(t *testing.T) {
	e := newEnv(t, true, time.Second)
	c := New(Config{Ledger: clientOnly{e.node}})
	err := c.RegisterAccount(context.Background(), rpc.AccountRegistration{ID: aliceID})
	assert.ErrorIs(t, err, ErrRegistrationUnsupported)
}

func TestMintFromUnknownFaucet(t *testing.T) {
	e := newEnv(t, true, time.Second)
	_, err := e.client.MintToAccount(context.Background(), MintRequest{Faucet: faucetID, Target: aliceID, Amount: 1})
	assert.ErrorIs(t, err, rpc.ErrAccountNotFound)
}

func TestIssueThenConsumeLater(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.deploy(t, 1_000_000)
	ctx := context.Background()

	res, err := e.client.Issue(ctx, MintRequest{Faucet: faucetID, Target: bobID, Amount: 12, Aux: note.NewFelt(27)})
	require.NoError(t, err)
	assert.Zero(t, res.Consume.BlockNum)

	// the note travels as JSON between the two commands
	raw, err := res.P2ID.MarshalJSON()
	require.NoError(t, err)
	var kept note.Note
	require.NoError(t, kept.UnmarshalJSON(raw))

	_, err = e.client.Consume(ctx, bobID, &kept)
	require.NoError(t, err)
	bal, err := e.client.Balance(ctx, bobID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), bal)
}

func TestAfterBlockIssuance(t *testing.T) {
	e := newEnv(t, true, time.Second)
	e.deploy(t, 1_000_000)
	ctx := context.Background()

	after := e.node.BlockNum() + 4
	res, err := e.client.Issue(ctx, MintRequest{Faucet: faucetID, Target: aliceID, Amount: 8, AfterBlock: after})
	require.NoError(t, err)
	assert.Equal(t, after, res.P2ID.Metadata().Hint.Payload)
	in := mustMintInputs(t, res.Mint)
	assert.Equal(t, res.P2ID.Metadata().Hint, in.Hint)

	_, err = e.client.Consume(ctx, aliceID, res.P2ID)
	var discarded *confirm.DiscardedError
	require.ErrorAs(t, err, &discarded)
	assert.Contains(t, discarded.Cause, devnet.ErrNotConsumable.Error())

	for e.node.BlockNum() < after-1 {
		_, err := e.node.ProduceBlock(ctx)
		require.NoError(t, err)
	}
	receipt, err := e.client.Consume(ctx, aliceID, res.P2ID)
	require.NoError(t, err)
	assert.Equal(t, after, receipt.BlockNum)
	bal, err := e.client.Balance(ctx, aliceID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), bal)
}
