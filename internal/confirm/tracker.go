// tracker.go - Confirmation state machine for submitted transactions.
//
// States: Pending -> {Committed(block), Discarded(cause)}. Both terminal states end
// the machine. The tracker only observes statuses; it never changes them.

package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"noteflow/internal/txn"
)

var (
	// ErrTimeout is local policy expiry, not a ledger fact. Awaiting again later is safe.
	ErrTimeout = errors.New("timed out waiting for transaction commitment")
	// ErrTransactionNotFound means the ledger does not know the id (yet).
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStatusRegression means the ledger reported a change after a terminal status.
	ErrStatusRegression = errors.New("transaction status moved after reaching a terminal state")
	// ErrInvalidPollInterval rejects intervals that would poll the ledger in a busy loop.
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
)

// DiscardedError is the terminal failure: the ledger rejected or superseded the
// transaction. Cause is reported verbatim.
type DiscardedError struct {
	ID    txn.ID
	Cause string
}

func (e *DiscardedError) Error() string {
	return fmt.Sprintf("transaction %s discarded: %s", e.ID, e.Cause)
}

// NotFoundError reports how many lookups missed before giving up.
type NotFoundError struct {
	ID       txn.ID
	Attempts int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found after %d lookups", e.ID, e.Attempts)
}

func (e *NotFoundError) Unwrap() error {
	return ErrTransactionNotFound
}

// StatusLookup is the lookup half of the ledger contract.
type StatusLookup interface {
	LookupTransaction(ctx context.Context, id txn.ID) (*txn.Status, error)
}

// Ledger is what a tracker needs from the RPC collaborator.
type Ledger interface {
	StateSyncer
	StatusLookup
}

// TrackerConfig configures a Tracker. Ledger is required.
type TrackerConfig struct {
	Ledger StatusLookup
	// Syncer is shared by every tracker observing the same ledger view. When nil a
	// private one is created, which requires Ledger to implement StateSyncer.
	Syncer *Syncer
	Logger *slog.Logger
	// NotFoundRetries is how many consecutive not-found lookups are treated as
	// "not propagated yet" before ErrTransactionNotFound is returned.
	NotFoundRetries int
	// BackoffFactor multiplies the poll interval after every pending lookup. Values
	// below 1 keep the interval fixed.
	BackoffFactor float64
	// MaxPollInterval caps the backed-off interval. Zero means no cap.
	MaxPollInterval time.Duration
	PromRegistry    prometheus.Registerer
}

// Tracker drives the confirmation state machine for transactions submitted to one
// ledger. It is safe for concurrent use.
type Tracker struct {
	ledger          StatusLookup
	syncer          *Syncer
	logger          *slog.Logger
	notFoundRetries int
	backoffFactor   float64
	maxPollInterval time.Duration
	terminalMutex   sync.Mutex
	terminal        map[txn.ID]txn.Status
	metrics         struct {
		polls    prometheus.Counter
		outcomes *prometheus.CounterVec
		waitTime prometheus.Histogram
	}
}

// NewTracker creates a tracker and registers its metrics with cfg.PromRegistry.
func NewTracker(cfg TrackerConfig) *Tracker {
	t := &Tracker{
		ledger:          cfg.Ledger,
		syncer:          cfg.Syncer,
		logger:          cfg.Logger,
		notFoundRetries: cfg.NotFoundRetries,
		backoffFactor:   cfg.BackoffFactor,
		maxPollInterval: cfg.MaxPollInterval,
		terminal:        make(map[txn.ID]txn.Status),
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if t.syncer == nil {
		if s, ok := cfg.Ledger.(StateSyncer); ok {
			t.syncer = NewSyncer(s)
		}
	}
	promautoFactory := promauto.With(cfg.PromRegistry)
	t.metrics.polls = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "noteflow_confirmation_polls_total",
		Help: "status lookups performed while awaiting commitment",
	})
	t.metrics.outcomes = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteflow_confirmation_outcomes_total",
			Help: "await results by outcome",
		},
		[]string{"outcome"},
	)
	t.metrics.waitTime = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "noteflow_confirmation_wait_seconds",
		Help:    "time spent awaiting commitment",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	return t
}

// AwaitCommitment polls until id is committed (returning its block), discarded, not
// found past the retry budget, or maxWait elapses. Every lookup is preceded by a resync
// so the answer never comes from a stale view. maxWait <= 0 returns ErrTimeout without
// touching the ledger, and maxWait also bounds every ledger call made while waiting.
// pollInterval must be positive.
func (t *Tracker) AwaitCommitment(ctx context.Context, id txn.ID, pollInterval, maxWait time.Duration) (uint32, error) {
	start := time.Now()
	block, outcome, err := t.await(ctx, id, pollInterval, maxWait)
	t.metrics.outcomes.WithLabelValues(outcome).Inc()
	t.metrics.waitTime.Observe(time.Since(start).Seconds())
	return block, err
}

func (t *Tracker) await(ctx context.Context, id txn.ID, pollInterval, maxWait time.Duration) (uint32, string, error) {
	if maxWait <= 0 {
		return 0, "timeout", ErrTimeout
	}
	if pollInterval <= 0 {
		return 0, "error", fmt.Errorf("%w, got %s", ErrInvalidPollInterval, pollInterval)
	}
	if t.syncer == nil {
		return 0, "error", errors.New("tracker has no syncer")
	}
	// ledger calls share the maxWait budget, so a stuck resync or lookup cannot outlive it
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	interval := pollInterval
	misses := 0
	for {
		summary, err := t.syncer.Sync(waitCtx)
		if err != nil {
			return t.failed(ctx, waitCtx, err)
		}
		t.metrics.polls.Inc()
		status, err := t.ledger.LookupTransaction(waitCtx, id)
		if err != nil {
			return t.failed(ctx, waitCtx, err)
		}

		switch {
		case status == nil:
			misses++
			if misses > t.notFoundRetries {
				return 0, "not_found", &NotFoundError{ID: id, Attempts: misses}
			}
			t.logger.Debug(
				"transaction not visible yet",
				"component", "tracker",
				"tx_id", id.Hex(),
				"block", summary.BlockNum,
				"attempt", misses,
			)
		default:
			misses = 0
			if err := t.observe(id, *status); err != nil {
				return 0, "regression", err
			}
			switch status.Kind {
			case txn.StatusCommitted:
				t.logger.Info(
					"transaction committed",
					"component", "tracker",
					"tx_id", id.Hex(),
					"block", status.BlockNum,
				)
				return status.BlockNum, "committed", nil
			case txn.StatusDiscarded:
				t.logger.Warn(
					"transaction discarded",
					"component", "tracker",
					"tx_id", id.Hex(),
					"cause", status.Cause,
				)
				return 0, "discarded", &DiscardedError{ID: id, Cause: status.Cause}
			}
			t.logger.Debug(
				"transaction pending",
				"component", "tracker",
				"tx_id", id.Hex(),
				"block", summary.BlockNum,
			)
		}

		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return t.failed(ctx, waitCtx, waitCtx.Err())
		case <-timer.C:
		}
		interval = t.nextInterval(interval)
	}
}

// failed classifies an error seen while awaiting. Expiry of the maxWait budget is
// ErrTimeout; cancellation of the caller's context is reported as is.
func (t *Tracker) failed(ctx, waitCtx context.Context, err error) (uint32, string, error) {
	if ctx.Err() != nil {
		return 0, "cancelled", ctx.Err()
	}
	if waitCtx.Err() != nil {
		return 0, "timeout", ErrTimeout
	}
	return 0, "error", err
}

func (t *Tracker) nextInterval(cur time.Duration) time.Duration {
	if t.backoffFactor <= 1 {
		return cur
	}
	next := time.Duration(float64(cur) * t.backoffFactor)
	if t.maxPollInterval > 0 && next > t.maxPollInterval {
		next = t.maxPollInterval
	}
	return next
}

// observe records terminal statuses and rejects any later change to them.
func (t *Tracker) observe(id txn.ID, status txn.Status) error {
	t.terminalMutex.Lock()
	defer t.terminalMutex.Unlock()
	prev, seen := t.terminal[id]
	if seen && !prev.CanBecome(status) {
		t.logger.Error(
			fmt.Sprintf("ledger reported %s after %s", status, prev),
			"component", "tracker",
			"tx_id", id.Hex(),
		)
		return fmt.Errorf("%w: %s after %s", ErrStatusRegression, status, prev)
	}
	if status.IsTerminal() {
		t.terminal[id] = status
	}
	return nil
}

// Observed returns the terminal status recorded for id, if any.
func (t *Tracker) Observed(id txn.ID) (txn.Status, bool) {
	t.terminalMutex.Lock()
	defer t.terminalMutex.Unlock()
	s, ok := t.terminal[id]
	return s, ok
}
