// syncer.go - Single-writer access to the synchronized ledger view.

package confirm

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"noteflow/internal/rpc"
)

// StateSyncer is the resync half of the ledger contract.
type StateSyncer interface {
	SyncState(ctx context.Context) (rpc.SyncSummary, error)
}

// Syncer serializes resyncs. At most one SyncState call is in flight; callers that
// arrive while one is running share its result. Trackers polling the same ledger view
// must share one Syncer.
type Syncer struct {
	ledger StateSyncer
	group  singleflight.Group
	last   atomic.Uint32
	calls  atomic.Uint64
}

// NewSyncer returns a syncer over ledger.
func NewSyncer(ledger StateSyncer) *Syncer {
	return &Syncer{ledger: ledger}
}

// Sync resynchronizes, coalescing with any resync already in progress.
func (s *Syncer) Sync(ctx context.Context) (rpc.SyncSummary, error) {
	ch := s.group.DoChan("sync", func() (any, error) {
		s.calls.Add(1)
		// detached so one caller's cancellation does not fail the others sharing this call
		summary, err := s.ledger.SyncState(context.WithoutCancel(ctx))
		if err != nil {
			return rpc.SyncSummary{}, err
		}
		s.last.Store(summary.BlockNum)
		return summary, nil
	})
	select {
	case <-ctx.Done():
		return rpc.SyncSummary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return rpc.SyncSummary{}, res.Err
		}
		return res.Val.(rpc.SyncSummary), nil
	}
}

// LastBlock is the block number seen by the most recent successful resync.
func (s *Syncer) LastBlock() uint32 {
	return s.last.Load()
}

// Calls is how many resyncs actually reached the ledger.
func (s *Syncer) Calls() uint64 {
	return s.calls.Load()
}
