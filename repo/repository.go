// Package repo implements the per-peer append-only log store (§4.4)
// and the repository manager that owns one such store per known
// authoring peer plus the process-wide global order counter (§4.5).
package repo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xendarboh/chatnode/store"
)

// ErrInvalidSequence mirrors store.ErrInvalidSequence at the
// repository's API boundary, where the contiguity check actually runs.
var ErrInvalidSequence = errors.New("repo: invalid counter sequence")

// Repository is the append-only log of one authoring peer. It owns an
// atomic in-memory counter mirroring the persisted maximum counter and
// serializes every append through a mutex so observers never see a
// gap, per §5's ordering guarantee.
type Repository struct {
	mu      sync.Mutex
	peerID  string
	counter uint64
	st      *store.Store
}

func newRepository(peerID string, st *store.Store, counter uint64) *Repository {
	return &Repository{peerID: peerID, st: st, counter: counter}
}

// PeerID returns the authoring peer this repository stores.
func (r *Repository) PeerID() string { return r.peerID }

// GetState returns the current highest committed counter.
func (r *Repository) GetState() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// appendOwn assigns the next counter to msg, persists it under the
// given order, and advances the in-memory counter. Only ever called by
// the manager for the local peer's own repository.
func (r *Repository) appendOwn(id string, order uint64, timestamp int64, payload []byte) (store.MessageRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := store.MessageRow{
		ID:        id,
		PeerID:    r.peerID,
		Counter:   r.counter + 1,
		Order:     order,
		Timestamp: timestamp,
		Payload:   payload,
	}
	if err := r.st.InsertMessagesBatch(r.peerID, []store.MessageRow{row}); err != nil {
		return store.MessageRow{}, fmt.Errorf("repo: append own: %w", err)
	}
	r.counter++
	return row, nil
}

// AppendBatch filters entries to counter > current, requires the
// remainder to be contiguous starting at current+1, and persists them
// in one atomic transaction. Entries already committed (counter <=
// current) are silently dropped: idempotent re-delivery is a no-op,
// per §4.4. Returns exactly the rows newly persisted, for the caller
// to forward to the indexer; on a rejected (non-contiguous) batch,
// nothing is persisted and the counter does not move.
func (r *Repository) AppendBatch(entries []store.MessageRow) ([]store.MessageRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make([]store.MessageRow, 0, len(entries))
	for _, e := range entries {
		if e.Counter > r.counter {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	expect := r.counter + 1
	for _, e := range fresh {
		if e.Counter != expect {
			return nil, ErrInvalidSequence
		}
		expect++
	}
	if err := r.st.InsertMessagesBatch(r.peerID, fresh); err != nil {
		return nil, fmt.Errorf("repo: append batch: %w", err)
	}
	r.counter += uint64(len(fresh))
	return fresh, nil
}

// GetAfter returns every entry with counter strictly greater than
// counter, in counter order.
func (r *Repository) GetAfter(counter uint64) ([]store.MessageRow, error) {
	return r.st.GetAfter(r.peerID, counter)
}
