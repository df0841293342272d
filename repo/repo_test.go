package repo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/chatnode/store"
)

type recordingIndexer struct {
	rows []store.MessageRow
}

func (r *recordingIndexer) IndexAppend(row store.MessageRow) error {
	r.rows = append(r.rows, row)
	return nil
}

type recordingBroadcaster struct {
	batches [][]store.MessageRow
}

func (b *recordingBroadcaster) BroadcastOwnAppend(entries []store.MessageRow) {
	b.batches = append(b.batches, entries)
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m, err := NewManager(st, "local")
	require.NoError(t, err)
	return m, st
}

func TestAddOwnMessageIndexesAndBroadcasts(t *testing.T) {
	m, _ := newTestManager(t)
	ix := &recordingIndexer{}
	bc := &recordingBroadcaster{}
	m.SetIndexer(ix)
	m.SetBroadcaster(bc)

	row, err := m.AddOwnMessage("msg-1", 100, []byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 1, row.Counter)

	require.Len(t, ix.rows, 1)
	require.Equal(t, "msg-1", ix.rows[0].ID)
	require.Len(t, bc.batches, 1)
	require.Equal(t, "msg-1", bc.batches[0][0].ID)
}

func TestAddOwnMessageAssignsIncreasingCounters(t *testing.T) {
	m, _ := newTestManager(t)
	first, err := m.AddOwnMessage("a", 1, nil)
	require.NoError(t, err)
	second, err := m.AddOwnMessage("b", 2, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Counter)
	require.EqualValues(t, 2, second.Counter)
}

func TestAppendRemoteBatchRejectsNonContiguous(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.AppendRemoteBatch("remote", []store.MessageRow{
		{ID: "a", PeerID: "remote", Counter: 1},
		{ID: "c", PeerID: "remote", Counter: 3},
	})
	require.ErrorIs(t, err, ErrInvalidSequence)
}

func TestAppendRemoteBatchDropsAlreadyCommitted(t *testing.T) {
	m, _ := newTestManager(t)
	ix := &recordingIndexer{}
	m.SetIndexer(ix)

	err := m.AppendRemoteBatch("remote", []store.MessageRow{{ID: "a", PeerID: "remote", Counter: 1}})
	require.NoError(t, err)
	require.Len(t, ix.rows, 1)

	// Redelivery of the same (already committed) entry is a no-op.
	err = m.AppendRemoteBatch("remote", []store.MessageRow{{ID: "a", PeerID: "remote", Counter: 1}})
	require.NoError(t, err)
	require.Len(t, ix.rows, 1)
}

func TestGetRepoStatesReflectsAppends(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.AddOwnMessage("a", 1, nil)
	require.NoError(t, err)
	require.NoError(t, m.AppendRemoteBatch("remote", []store.MessageRow{{ID: "b", PeerID: "remote", Counter: 1}}))

	states, err := m.GetRepoStates()
	require.NoError(t, err)
	require.Len(t, states, 2)
}

func TestGetOrCreateRepositoryReusesInstance(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.GetOrCreateRepository("p1")
	require.NoError(t, err)
	b, err := m.GetOrCreateRepository("p1")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestRepositoryGetAfterOrdering(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AppendRemoteBatch("p1", []store.MessageRow{
		{ID: "a", PeerID: "p1", Counter: 1},
		{ID: "b", PeerID: "p1", Counter: 2},
	}))
	r, err := m.GetOrCreateRepository("p1")
	require.NoError(t, err)

	rows, err := r.GetAfter(1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].ID)
	require.EqualValues(t, 2, r.GetState())
}
