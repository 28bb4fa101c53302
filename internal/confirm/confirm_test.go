package confirm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"noteflow/internal/note"
	"noteflow/internal/rpc"
	"noteflow/internal/txn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedLedger replays a fixed sequence of lookup answers. The last answer repeats.
type scriptedLedger struct {
	mu       sync.Mutex
	answers  []*txn.Status
	lookups  int
	syncs    atomic.Int64
	syncErr  error
	syncHold chan struct{}
	inSync   atomic.Int64
	maxSync  atomic.Int64
}

func (l *scriptedLedger) SyncState(ctx context.Context) (rpc.SyncSummary, error) {
	n := l.inSync.Add(1)
	defer l.inSync.Add(-1)
	for {
		cur := l.maxSync.Load()
		if n <= cur || l.maxSync.CompareAndSwap(cur, n) {
			break
		}
	}
	l.syncs.Add(1)
	if l.syncHold != nil {
		<-l.syncHold
	}
	if l.syncErr != nil {
		return rpc.SyncSummary{}, l.syncErr
	}
	return rpc.SyncSummary{BlockNum: uint32(l.syncs.Load())}, nil
}

func (l *scriptedLedger) LookupTransaction(ctx context.Context, id txn.ID) (*txn.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.lookups
	if idx >= len(l.answers) {
		idx = len(l.answers) - 1
	}
	l.lookups++
	return l.answers[idx], nil
}

func (l *scriptedLedger) lookupCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookups
}

func status(s txn.Status) *txn.Status {
	return &s
}

func testID(v uint64) txn.ID {
	return txn.ID(note.NewWord(v, 1, 2, 3))
}

func newTestTracker(ledger Ledger, retries int) *Tracker {
	return NewTracker(TrackerConfig{
		Ledger:          ledger,
		NotFoundRetries: retries,
		PromRegistry:    prometheus.NewRegistry(),
	})
}

func TestAwaitCommitmentAfterPending(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{
		status(txn.Pending()),
		status(txn.Pending()),
		status(txn.Committed(42)),
	}}
	tracker := newTestTracker(ledger, 0)

	block, err := tracker.AwaitCommitment(context.Background(), testID(1), time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), block)
	assert.Equal(t, 3, ledger.lookupCount())
	// every lookup is preceded by a resync
	assert.Equal(t, int64(3), ledger.syncs.Load())

	observed, ok := tracker.Observed(testID(1))
	require.True(t, ok)
	assert.Equal(t, txn.Committed(42), observed)
}

func TestAwaitCommitmentDiscarded(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{
		status(txn.Pending()),
		status(txn.Discarded("nullifier already spent")),
	}}
	tracker := newTestTracker(ledger, 0)

	_, err := tracker.AwaitCommitment(context.Background(), testID(2), time.Millisecond, time.Second)
	var discarded *DiscardedError
	require.ErrorAs(t, err, &discarded)
	assert.Equal(t, "nullifier already spent", discarded.Cause)
	assert.Equal(t, testID(2), discarded.ID)
	// discarded is terminal: no further lookups
	assert.Equal(t, 2, ledger.lookupCount())
}

func TestAwaitCommitmentNotFound(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{nil}}
	tracker := newTestTracker(ledger, 2)

	_, err := tracker.AwaitCommitment(context.Background(), testID(3), time.Millisecond, time.Second)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 3, nf.Attempts)
	assert.Equal(t, 3, ledger.lookupCount())
}

func TestAwaitCommitmentLatePropagation(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{
		nil,
		nil,
		status(txn.Committed(7)),
	}}
	tracker := newTestTracker(ledger, 2)

	block, err := tracker.AwaitCommitment(context.Background(), testID(4), time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), block)
}

func TestAwaitCommitmentZeroWaitTouchesNothing(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Committed(1))}}
	tracker := newTestTracker(ledger, 0)

	_, err := tracker.AwaitCommitment(context.Background(), testID(5), time.Millisecond, 0)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(0), ledger.syncs.Load())
	assert.Equal(t, 0, ledger.lookupCount())
	_, ok := tracker.Observed(testID(5))
	assert.False(t, ok)
}

func TestAwaitCommitmentTimeout(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Pending())}}
	tracker := newTestTracker(ledger, 0)

	start := time.Now()
	_, err := tracker.AwaitCommitment(context.Background(), testID(6), 5*time.Millisecond, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, ledger.lookupCount(), 1)
}

func TestAwaitCommitmentTransportErrorPropagates(t *testing.T) {
	cause := &rpc.TransportError{Method: rpc.MethodSyncState, Err: errors.New("connection refused")}
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Pending())}, syncErr: cause}
	tracker := newTestTracker(ledger, 0)

	_, err := tracker.AwaitCommitment(context.Background(), testID(7), time.Millisecond, time.Second)
	require.Error(t, err)
	assert.True(t, rpc.IsTransportError(err))
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrTransactionNotFound)
}

func TestAwaitCommitmentCancelled(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Pending())}}
	tracker := newTestTracker(ledger, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tracker.AwaitCommitment(ctx, testID(8), 5*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusRegressionDetected(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{
		status(txn.Committed(3)),
		status(txn.Pending()),
	}}
	tracker := newTestTracker(ledger, 0)

	block, err := tracker.AwaitCommitment(context.Background(), testID(9), time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), block)

	_, err = tracker.AwaitCommitment(context.Background(), testID(9), time.Millisecond, time.Second)
	require.ErrorIs(t, err, ErrStatusRegression)
}

func TestRepeatedTerminalStatusIsNotRegression(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Committed(3))}}
	tracker := newTestTracker(ledger, 0)

	for range 3 {
		block, err := tracker.AwaitCommitment(context.Background(), testID(10), time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), block)
	}
}

func TestBackoffCapped(t *testing.T) {
	tracker := NewTracker(TrackerConfig{
		Ledger:          &scriptedLedger{answers: []*txn.Status{nil}},
		BackoffFactor:   2,
		MaxPollInterval: 50 * time.Millisecond,
		PromRegistry:    prometheus.NewRegistry(),
	})
	interval := 10 * time.Millisecond
	interval = tracker.nextInterval(interval)
	assert.Equal(t, 20*time.Millisecond, interval)
	interval = tracker.nextInterval(interval)
	interval = tracker.nextInterval(interval)
	assert.Equal(t, 50*time.Millisecond, interval)

	fixed := newTestTracker(&scriptedLedger{answers: []*txn.Status{nil}}, 0)
	assert.Equal(t, 10*time.Millisecond, fixed.nextInterval(10*time.Millisecond))
}

func TestConcurrentTrackersShareOneResync(t *testing.T) {
	hold := make(chan struct{})
	ledger := &scriptedLedger{
		answers:  []*txn.Status{status(txn.Committed(5))},
		syncHold: hold,
	}
	syncer := NewSyncer(ledger)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		tracker := NewTracker(TrackerConfig{
			Ledger:       ledger,
			Syncer:       syncer,
			PromRegistry: prometheus.NewRegistry(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.AwaitCommitment(context.Background(), testID(uint64(100+i)), time.Millisecond, 5*time.Second)
			errs <- err
		}()
	}
	// let the trackers pile up on the first resync before releasing it
	require.Eventually(t, func() bool { return ledger.syncs.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(hold)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), ledger.maxSync.Load(), "resyncs must never overlap")
	assert.Less(t, syncer.Calls(), uint64(8))
	assert.Equal(t, uint32(ledger.syncs.Load()), syncer.LastBlock())
}

func TestAwaitCommitmentBoundsStuckResync(t *testing.T) {
	hold := make(chan struct{})
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Pending())}, syncHold: hold}
	defer close(hold)
	tracker := newTestTracker(ledger, 0)

	start := time.Now()
	_, err := tracker.AwaitCommitment(context.Background(), testID(11), 10*time.Millisecond, 50*time.Millisecond)
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, 0, ledger.lookupCount())
}

func TestAwaitCommitmentRejectsNonPositiveInterval(t *testing.T) {
	ledger := &scriptedLedger{answers: []*txn.Status{status(txn.Pending())}}
	tracker := newTestTracker(ledger, 0)

	for _, interval := range []time.Duration{0, -time.Millisecond} {
		_, err := tracker.AwaitCommitment(context.Background(), testID(12), interval, 50*time.Millisecond)
		require.ErrorIs(t, err, ErrInvalidPollInterval)
	}
	assert.Equal(t, int64(0), ledger.syncs.Load())
	assert.Equal(t, 0, ledger.lookupCount())
}
