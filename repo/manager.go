package repo

import (
	"sync"
	"sync/atomic"

	"github.com/xendarboh/chatnode/store"
)

// IndexSink receives every newly persisted message row so the indexer
// can decode and record it.
type IndexSink interface {
	IndexAppend(row store.MessageRow) error
}

// Broadcaster receives locally authored appends so the sync engine can
// fan them out to live peers. Only local-authored appends are routed
// here; batch-applied remote entries are never broadcast (§4.9,
// avoiding the N² propagation storm).
type Broadcaster interface {
	BroadcastOwnAppend(entries []store.MessageRow)
}

// Manager owns one Repository per known authoring peer, lazily
// instantiated, and the process-wide monotonic order counter.
//
// The specification models the sync engine, manager, and repository as
// holding non-owning back-references to each other to break a cyclic
// ownership graph. Go's garbage collector traces and reclaims cycles
// natively (unlike the reference-counted ownership this was ported
// from), so no weak-pointer discipline is needed for memory safety;
// what the cycle actually requires — "don't call into a collaborator
// that is mid-shutdown" — is instead handled by each collaborator's own
// halt/done state (see internal/syncutil), checked by callers before
// or instead of a dependent call. Indexer and Broadcaster are therefore
// set once, after all three are constructed, via the setters below.
type Manager struct {
	mu    sync.Mutex
	st    *store.Store
	repos map[string]*Repository

	order uint64 // atomic

	localPeerID string
	indexer     IndexSink
	broadcaster Broadcaster
}

// NewManager constructs a Manager over st, initializing the global
// order counter to the highest order ever persisted.
func NewManager(st *store.Store, localPeerID string) (*Manager, error) {
	maxOrder, err := st.MaxOrder()
	if err != nil {
		return nil, err
	}
	return &Manager{
		st:          st,
		repos:       make(map[string]*Repository),
		order:       maxOrder,
		localPeerID: localPeerID,
	}, nil
}

// SetIndexer wires the indexer that receives every newly persisted row.
func (m *Manager) SetIndexer(ix IndexSink) { m.indexer = ix }

// SetBroadcaster wires the sync engine that receives local-authored
// appends for fan-out.
func (m *Manager) SetBroadcaster(b Broadcaster) { m.broadcaster = b }

func (m *Manager) nextOrder() uint64 {
	return atomic.AddUint64(&m.order, 1)
}

// GetOrCreateRepository returns the repository for peerID, creating and
// initializing it from persisted state on first use.
func (m *Manager) GetOrCreateRepository(peerID string) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[peerID]; ok {
		return r, nil
	}
	counter, err := m.st.GetMaxCounter(peerID)
	if err != nil {
		return nil, err
	}
	r := newRepository(peerID, m.st, counter)
	m.repos[peerID] = r
	return r, nil
}

// AddOwnMessage assigns an order, appends to the local peer's own
// repository, indexes, and broadcasts. It is the only path that may
// append to the local peer's log.
func (m *Manager) AddOwnMessage(id string, timestamp int64, payload []byte) (store.MessageRow, error) {
	repo, err := m.GetOrCreateRepository(m.localPeerID)
	if err != nil {
		return store.MessageRow{}, err
	}
	row, err := repo.appendOwn(id, m.nextOrder(), timestamp, payload)
	if err != nil {
		return store.MessageRow{}, err
	}
	if m.indexer != nil {
		_ = m.indexer.IndexAppend(row)
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastOwnAppend([]store.MessageRow{row})
	}
	return row, nil
}

// AppendRemoteBatch applies entries authored by peerID, received from a
// remote node, assigning a fresh local order to each before the
// contiguity check. Newly persisted rows (after idempotency filtering)
// are forwarded to the indexer; nothing is broadcast, since the
// originating peer is responsible for its own fan-out.
func (m *Manager) AppendRemoteBatch(peerID string, entries []store.MessageRow) error {
	repo, err := m.GetOrCreateRepository(peerID)
	if err != nil {
		return err
	}
	stamped := make([]store.MessageRow, len(entries))
	for i, e := range entries {
		e.Order = m.nextOrder()
		stamped[i] = e
	}
	fresh, err := repo.AppendBatch(stamped)
	if err != nil {
		return err
	}
	if m.indexer != nil {
		for _, row := range fresh {
			_ = m.indexer.IndexAppend(row)
		}
	}
	return nil
}

// GetRepoStates enumerates every known repository's current counter,
// used to synthesize a CompareRequest.
func (m *Manager) GetRepoStates() ([]store.RepoState, error) {
	// Every append persists before advancing a repository's in-memory
	// counter, so the persisted view is always authoritative; no need
	// to consult the in-memory repos map here.
	return m.st.GetRepoStates()
}

// LocalPeerID returns the local node's peer id.
func (m *Manager) LocalPeerID() string { return m.localPeerID }
