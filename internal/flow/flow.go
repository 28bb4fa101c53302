// flow.go - End to end operations built from the protocol core.
//
// Every operation follows the same sequence: build notes, submit a request, record the
// submission in the journal, then await commitment. Nothing here sleeps for a fixed
// time; waiting is always delegated to the confirmation tracker.

package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"noteflow/internal/confirm"
	"noteflow/internal/faucet"
	"noteflow/internal/journal"
	"noteflow/internal/note"
	"noteflow/internal/rng"
	"noteflow/internal/rpc"
	"noteflow/internal/txn"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 2 * time.Minute
)

// ErrRegistrationUnsupported is returned by RegisterAccount when the ledger client has
// no registration endpoint.
var ErrRegistrationUnsupported = errors.New("ledger does not accept account registrations")

// Config wires a Client. Only Ledger is required; zero durations take the defaults
// above.
type Config struct {
	Ledger rpc.Client
	// Journal records submissions when set.
	Journal *journal.Store
	// Rng draws serial numbers. Defaults to the crypto RNG.
	Rng          note.FeltRng
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	PollInterval time.Duration
	MaxWait      time.Duration
	// NotFoundRetries and backoff are handed to the tracker.
	NotFoundRetries int
	BackoffFactor   float64
	MaxPollInterval time.Duration
	// Layout reads faucet storage. Defaults to faucet.LayoutV1.
	Layout faucet.Layout
	// Scripts resolves note scripts. Defaults to the well-known set.
	Scripts note.ScriptRegistry
}

// Client runs complete mint, consume and deploy operations against one ledger.
type Client struct {
	ledger       rpc.Client
	journal      *journal.Store
	rng          note.FeltRng
	logger       *slog.Logger
	notes        *note.Factory
	orchestrator *txn.Orchestrator
	syncer       *confirm.Syncer
	tracker      *confirm.Tracker
	pollInterval time.Duration
	maxWait      time.Duration
	layout       faucet.Layout
}

// New builds a client whose orchestrator and tracker share cfg.Ledger.
func New(cfg Config) *Client {
	c := &Client{
		ledger:       cfg.Ledger,
		journal:      cfg.Journal,
		rng:          cfg.Rng,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		layout:       cfg.Layout,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.rng == nil {
		c.rng = rng.NewSecure()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxWait <= 0 {
		c.maxWait = DefaultMaxWait
	}
	if c.layout == nil {
		c.layout = faucet.LayoutV1{}
	}
	c.notes = note.NewFactory(cfg.Scripts)
	c.orchestrator = txn.NewOrchestrator(txn.OrchestratorConfig{
		Submitter:    cfg.Ledger,
		Logger:       c.logger,
		PromRegistry: cfg.PromRegistry,
	})
	c.syncer = confirm.NewSyncer(cfg.Ledger)
	c.tracker = confirm.NewTracker(confirm.TrackerConfig{
		Ledger:          cfg.Ledger,
		Syncer:          c.syncer,
		Logger:          c.logger,
		NotFoundRetries: cfg.NotFoundRetries,
		BackoffFactor:   cfg.BackoffFactor,
		MaxPollInterval: cfg.MaxPollInterval,
		PromRegistry:    cfg.PromRegistry,
	})
	return c
}

// Receipt is the committed outcome of one submitted transaction.
type Receipt struct {
	ID       txn.ID
	Kind     txn.Kind
	BlockNum uint32
}

// MintRequest describes an issuance from a network faucet into Target's vault.
type MintRequest struct {
	Faucet note.AccountID
	Target note.AccountID
	Amount uint64
	Aux    note.Felt
	// NoteType of the P2ID note. Defaults to private.
	NoteType note.NoteType
	// Serial fixes the P2ID serial number. Drawn from the RNG when nil.
	Serial *note.Word
	// AfterBlock, when set, keeps the P2ID note unconsumable before that block.
	AfterBlock uint32
}

// MintResult carries both notes of an issuance and the receipts of its transactions.
// Consume is zero when only the issuance ran.
type MintResult struct {
	P2ID    *note.Note
	Mint    *note.Note
	Issue   Receipt
	Consume Receipt
}

// BuildMintPair builds the P2ID note for req and the MINT note funding it. The MINT
// note carries the P2ID recipient digest, which is the only link between the two.
func (c *Client) BuildMintPair(req MintRequest, owner note.AccountID) (*note.Note, *note.Note, error) {
	noteType := req.NoteType
	if noteType == 0 {
		noteType = note.NotePrivate
	}
	asset, err := note.NewFungibleAsset(req.Faucet, req.Amount)
	if err != nil {
		return nil, nil, err
	}
	serial := c.rng.DrawWord()
	if req.Serial != nil {
		serial = *req.Serial
	}
	var p2idOpts []note.P2IDOption
	mintOpts := []note.MintOption{note.WithOutputNoteType(noteType)}
	if req.AfterBlock > 0 {
		hint, err := note.ExecutionHintAfterBlock(req.AfterBlock)
		if err != nil {
			return nil, nil, err
		}
		p2idOpts = append(p2idOpts, note.WithExecutionHint(hint))
		mintOpts = append(mintOpts, note.WithOutputHint(hint))
	}
	p2id, err := c.notes.BuildP2ID(req.Faucet, req.Target, []note.FungibleAsset{asset}, noteType, req.Aux, serial, p2idOpts...)
	if err != nil {
		return nil, nil, err
	}
	tag, err := note.NoteTagForLocalUseCase(0, 0)
	if err != nil {
		return nil, nil, err
	}
	mint, err := c.notes.BuildMint(
		req.Faucet, owner,
		p2id.Recipient().Digest(),
		tag,
		req.Amount,
		req.Aux, req.Aux,
		c.rng,
		mintOpts...,
	)
	if err != nil {
		return nil, nil, err
	}
	return p2id, mint, nil
}

// Issue builds the note pair for req and submits the MINT note from the faucet. The
// funded P2ID note is returned unconsumed. A private one is recorded on chain only as
// a header, so the caller must keep it to consume later.
func (c *Client) Issue(ctx context.Context, req MintRequest) (*MintResult, error) {
	owner, err := c.ResolveOwner(ctx, req.Faucet)
	if err != nil {
		return nil, err
	}
	p2id, mint, err := c.BuildMintPair(req, owner)
	if err != nil {
		return nil, err
	}
	c.logger.Info(
		fmt.Sprintf("minting %d from %s to %s", req.Amount, req.Faucet, req.Target),
		"component", "flow",
		"p2id_id", p2id.ID().Hex(),
		"mint_commitment", mint.Commitment().Hex(),
	)
	res := &MintResult{P2ID: p2id, Mint: mint}
	id, err := c.orchestrator.SubmitIssuance(ctx, req.Faucet, mint)
	if err != nil {
		return res, err
	}
	res.Issue, err = c.await(ctx, id, req.Faucet, txn.KindIssuance)
	return res, err
}

// MintToAccount issues req.Amount from the faucet into a P2ID note for the target and
// consumes it, so the target's vault grows by exactly that amount.
func (c *Client) MintToAccount(ctx context.Context, req MintRequest) (*MintResult, error) {
	res, err := c.Issue(ctx, req)
	if err != nil {
		return res, err
	}
	res.Consume, err = c.Consume(ctx, req.Target, res.P2ID)
	return res, err
}

// Consume consumes notes into account as unauthenticated inputs.
func (c *Client) Consume(ctx context.Context, account note.AccountID, notes ...*note.Note) (Receipt, error) {
	id, err := c.orchestrator.SubmitConsumption(ctx, account, notes...)
	if err != nil {
		return Receipt{}, err
	}
	return c.await(ctx, id, account, txn.KindConsumption)
}

// DeployFaucet registers f with the ledger using the configured storage layout and
// runs the deploy script, after which the faucet can execute MINT notes.
func (c *Client) DeployFaucet(ctx context.Context, f faucet.NetworkFaucet) (Receipt, error) {
	if err := f.Validate(); err != nil {
		return Receipt{}, err
	}
	err := c.RegisterAccount(ctx, rpc.AccountRegistration{
		ID:            f.ID,
		Storage:       c.layout.Encode(f),
		LayoutVersion: c.layout.Version(),
	})
	if err != nil && !errors.Is(err, rpc.ErrAccountExists) {
		return Receipt{}, err
	}
	id, err := c.orchestrator.SubmitScript(ctx, f.ID, faucet.DeployScript())
	if err != nil {
		return Receipt{}, err
	}
	return c.await(ctx, id, f.ID, txn.KindScript)
}

// RegisterAccount introduces an account to ledgers that support it.
func (c *Client) RegisterAccount(ctx context.Context, reg rpc.AccountRegistration) error {
	registrar, ok := c.ledger.(rpc.AccountRegistrar)
	if !ok {
		return ErrRegistrationUnsupported
	}
	return registrar.RegisterAccount(ctx, reg)
}

// ResolveOwner reads the owner of a network faucet from its storage.
func (c *Client) ResolveOwner(ctx context.Context, faucetID note.AccountID) (note.AccountID, error) {
	details, err := c.ledger.GetAccount(ctx, faucetID)
	if err != nil {
		return note.AccountID{}, fmt.Errorf("reading faucet %s: %w", faucetID, err)
	}
	return faucet.ResolveOwner(c.layout, details)
}

// Balance returns the amount of faucetID's asset held by account.
func (c *Client) Balance(ctx context.Context, account, faucetID note.AccountID) (uint64, error) {
	if _, err := c.syncer.Sync(ctx); err != nil {
		return 0, err
	}
	details, err := c.ledger.GetAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	return details.Balance(faucetID), nil
}

// Await waits for a transaction submitted elsewhere.
func (c *Client) Await(ctx context.Context, id txn.ID) (uint32, error) {
	return c.tracker.AwaitCommitment(ctx, id, c.pollInterval, c.maxWait)
}

func (c *Client) await(ctx context.Context, id txn.ID, account note.AccountID, kind txn.Kind) (Receipt, error) {
	if c.journal != nil {
		if err := c.journal.Record(ctx, id, account, kind); err != nil {
			c.logger.Warn(
				fmt.Sprintf("failed to journal submission: %s", err),
				"component", "flow",
				"tx_id", id.Hex(),
			)
		}
	}
	block, err := c.tracker.AwaitCommitment(ctx, id, c.pollInterval, c.maxWait)
	c.settle(ctx, id, block, err)
	if err != nil {
		return Receipt{ID: id, Kind: kind}, err
	}
	c.logger.Info(
		fmt.Sprintf("%s transaction committed in block %d", kind, block),
		"component", "flow",
		"tx_id", id.Hex(),
	)
	return Receipt{ID: id, Kind: kind, BlockNum: block}, nil
}

// settle writes a terminal outcome to the journal. Timeouts and not-found leave the
// entry pending so it can be polled again.
func (c *Client) settle(ctx context.Context, id txn.ID, block uint32, err error) {
	if c.journal == nil {
		return
	}
	var status txn.Status
	var discarded *confirm.DiscardedError
	switch {
	case err == nil:
		status = txn.Committed(block)
	case errors.As(err, &discarded):
		status = txn.Discarded(discarded.Cause)
	default:
		return
	}
	if jerr := c.journal.UpdateStatus(context.WithoutCancel(ctx), id, status); jerr != nil {
		c.logger.Warn(
			fmt.Sprintf("failed to journal status: %s", jerr),
			"component", "flow",
			"tx_id", id.Hex(),
		)
	}
}

// ResumeResult is the outcome of re-polling one journaled submission.
type ResumeResult struct {
	Entry    journal.Entry
	BlockNum uint32
	Err      error
}

// Resume polls every journaled submission that is still pending.
func (c *Client) Resume(ctx context.Context) ([]ResumeResult, error) {
	if c.journal == nil {
		return nil, nil
	}
	pending, err := c.journal.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ResumeResult, 0, len(pending))
	for _, e := range pending {
		block, err := c.tracker.AwaitCommitment(ctx, e.ID, c.pollInterval, c.maxWait)
		c.settle(ctx, e.ID, block, err)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, ResumeResult{Entry: e, BlockNum: block, Err: err})
	}
	return results, nil
}
