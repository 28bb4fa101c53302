// orchestrator.go - Turns notes into submitted transactions.
//
// The orchestrator is a stateless relay: it validates a request, hands it to the
// ledger RPC and reports the outcome. It never retries; retrying belongs to the caller
// (a fresh request) or to confirmation tracking (after submission succeeded).

package txn

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"noteflow/internal/note"
)

// Submitter is the slice of the ledger RPC needed to submit transactions.
type Submitter interface {
	SubmitTransaction(ctx context.Context, account note.AccountID, req *Request) (ID, error)
}

// SubmissionError wraps a rejected submission. Unwrap exposes the collaborator error,
// so transport failures stay distinguishable.
type SubmissionError struct {
	Account note.AccountID
	Kind    Kind
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting %s transaction for %s: %v", e.Kind, e.Account, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// OrchestratorConfig configures an Orchestrator. Submitter is required.
type OrchestratorConfig struct {
	Submitter    Submitter
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Orchestrator validates requests and hands them to the ledger. It never waits for
// commitment.
type Orchestrator struct {
	submitter Submitter
	logger    *slog.Logger
	metrics   struct {
		submitted *prometheus.CounterVec
		failed    *prometheus.CounterVec
	}
}

// NewOrchestrator registers the submission counters with cfg.PromRegistry.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		submitter: cfg.Submitter,
		logger:    cfg.Logger,
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	promautoFactory := promauto.With(cfg.PromRegistry)
	o.metrics.submitted = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteflow_transactions_submitted_total",
			Help: "transactions accepted by the ledger",
		},
		[]string{"kind"},
	)
	o.metrics.failed = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteflow_transactions_submit_failed_total",
			Help: "transaction submissions rejected locally or by the ledger",
		},
		[]string{"kind"},
	)
	return o
}

// Submit validates req and submits it on behalf of account.
func (o *Orchestrator) Submit(ctx context.Context, account note.AccountID, req *Request) (ID, error) {
	if err := req.Validate(); err != nil {
		o.metrics.failed.WithLabelValues("invalid").Inc()
		return ID{}, err
	}
	kind := req.Kind()
	id, err := o.submitter.SubmitTransaction(ctx, account, req)
	if err != nil {
		o.metrics.failed.WithLabelValues(string(kind)).Inc()
		o.logger.Error(
			fmt.Sprintf("transaction submission failed: %s", err),
			"component", "orchestrator",
			"account", account.Hex(),
			"kind", string(kind),
		)
		return ID{}, &SubmissionError{Account: account, Kind: kind, Err: err}
	}
	o.metrics.submitted.WithLabelValues(string(kind)).Inc()
	o.logger.Info(
		"transaction submitted",
		"component", "orchestrator",
		"account", account.Hex(),
		"kind", string(kind),
		"tx_id", id.Hex(),
	)
	return id, nil
}

// SubmitIssuance submits a MINT note as the faucet's own output note.
func (o *Orchestrator) SubmitIssuance(ctx context.Context, faucet note.AccountID, mint *note.Note) (ID, error) {
	req, err := NewRequestBuilder().OwnOutputNotes(mint).Build()
	if err != nil {
		return ID{}, err
	}
	o.logger.Debug(
		"issuing mint note",
		"component", "orchestrator",
		"note_commitment", mint.Commitment().Hex(),
	)
	return o.Submit(ctx, faucet, req)
}

// SubmitConsumption consumes notes as unauthenticated inputs: the account proves it may
// spend them through the notes' own scripts.
func (o *Orchestrator) SubmitConsumption(ctx context.Context, account note.AccountID, notes ...*note.Note) (ID, error) {
	inputs := make([]UnauthenticatedInput, 0, len(notes))
	for _, n := range notes {
		inputs = append(inputs, UnauthenticatedInput{Note: n})
	}
	req, err := NewRequestBuilder().UnauthenticatedInputNotes(inputs...).Build()
	if err != nil {
		return ID{}, err
	}
	return o.Submit(ctx, account, req)
}

// SubmitScript runs a custom transaction script against account.
func (o *Orchestrator) SubmitScript(ctx context.Context, account note.AccountID, script note.Script) (ID, error) {
	req, err := NewRequestBuilder().CustomScript(script).Build()
	if err != nil {
		return ID{}, err
	}
	return o.Submit(ctx, account, req)
}
