package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

var aliceID = note.MustParseAccountID("0xa1b2c3d4e5f6071011223344556677")

func newStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func id(v uint64) txn.ID {
	return txn.ID(note.NewWord(v, v, v, v))
}

func TestRecordAndResolve(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, id(1), aliceID, txn.KindIssuance))
	require.NoError(t, s.Record(ctx, id(2), aliceID, txn.KindConsumption))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id(1), pending[0].ID)
	assert.Equal(t, aliceID, pending[0].Account)
	assert.Equal(t, txn.KindIssuance, pending[0].Kind)

	require.NoError(t, s.UpdateStatus(ctx, id(1), txn.Committed(12)))
	e, err := s.Get(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, txn.Committed(12), e.Status)

	pending, err = s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id(2), pending[0].ID)
}

func TestTerminalStatusNeverChanges(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, id(3), aliceID, txn.KindConsumption))
	require.NoError(t, s.UpdateStatus(ctx, id(3), txn.Discarded("nullifier already spent")))

	// repeating the same terminal status is fine
	require.NoError(t, s.UpdateStatus(ctx, id(3), txn.Discarded("nullifier already spent")))

	assert.ErrorIs(t, s.UpdateStatus(ctx, id(3), txn.Pending()), ErrTerminalStatus)
	assert.ErrorIs(t, s.UpdateStatus(ctx, id(3), txn.Committed(4)), ErrTerminalStatus)

	e, err := s.Get(ctx, id(3))
	require.NoError(t, err)
	assert.Equal(t, txn.Discarded("nullifier already spent"), e.Status)
}

func TestUnknownSubmission(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	_, err := s.Get(ctx, id(9))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, id(9), txn.Committed(1)), ErrNotFound)
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	a := newStore(t, "")
	b := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, a.Record(ctx, id(5), aliceID, txn.KindScript))
	_, err := b.Get(ctx, id(5))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, id(7), aliceID, txn.KindIssuance))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id(7), pending[0].ID)
}
