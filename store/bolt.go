package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var (
	bucketMessages    = []byte("messages")
	bucketOrderIndex  = []byte("order_index")
	bucketIndexed     = []byte("indexed_messages")
	bucketFiles       = []byte("files")
	bucketPeers       = []byte("peers")
	bucketMeta        = []byte("meta")
	metaLocalPeerKey  = []byte("local_peer_id")
)

// ErrNotFound is returned by get-by-id lookups that miss.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidSequence names a batch that, after filtering to counter >
// current, is not a contiguous run starting at current+1. Nothing in
// this package returns it: InsertMessagesBatch does not check
// contiguity; the repo package runs that check and returns its own
// repo.ErrInvalidSequence.
var ErrInvalidSequence = errors.New("store: invalid counter sequence")

// ErrDuplicateFile is returned by SaveFile when file_id already exists.
var ErrDuplicateFile = errors.New("store: file_id already exists")

// Store is the embedded transactional key-indexed persistence
// collaborator backing the four tables named in the specification.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the store at path, creating the top-level
// buckets if absent.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketOrderIndex, bucketIndexed, bucketFiles, bucketPeers, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func counterKey(counter uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, counter)
	return b
}

func orderKey(order uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, order)
	return b
}

// MaxOrder returns the highest order value ever assigned, or 0 if the
// store is empty. The repository manager initializes its monotonic
// counter from this value at startup.
func (s *Store) MaxOrder() (uint64, error) {
	var max uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOrderIndex).Cursor()
		k, _ := c.Last()
		if k != nil {
			max = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return max, err
}

// GetMaxCounter returns the highest committed counter for peerID, or 0
// if no entries are stored for it yet.
func (s *Store) GetMaxCounter(peerID string) (uint64, error) {
	var max uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		peerBucket := tx.Bucket(bucketMessages).Bucket([]byte(peerID))
		if peerBucket == nil {
			return nil
		}
		c := peerBucket.Cursor()
		k, _ := c.Last()
		if k != nil {
			max = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return max, err
}

// InsertMessagesBatch persists msgs (already assigned counters and a
// global order) for peerID in one atomic transaction. Callers are
// responsible for counter-contiguity validation before calling this;
// the store itself enforces nothing beyond atomicity, mirroring the
// repository's ownership of that invariant (§4.4).
func (s *Store) InsertMessagesBatch(peerID string, msgs []MessageRow) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		msgBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(peerID))
		if err != nil {
			return err
		}
		orderBucket := tx.Bucket(bucketOrderIndex)
		for _, m := range msgs {
			enc, err := cbor.Marshal(&m)
			if err != nil {
				return err
			}
			if err := msgBucket.Put(counterKey(m.Counter), enc); err != nil {
				return err
			}
			ref := append([]byte(peerID), 0x00)
			ref = append(ref, counterKey(m.Counter)...)
			if err := orderBucket.Put(orderKey(m.Order), ref); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAfter returns every stored entry for peerID with counter strictly
// greater than counter, in counter order.
func (s *Store) GetAfter(peerID string, counter uint64) ([]MessageRow, error) {
	var out []MessageRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		peerBucket := tx.Bucket(bucketMessages).Bucket([]byte(peerID))
		if peerBucket == nil {
			return nil
		}
		c := peerBucket.Cursor()
		for k, v := c.Seek(counterKey(counter + 1)); k != nil; k, v = c.Next() {
			var m MessageRow
			if err := cbor.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// GetRepoStates enumerates every known authoring peer with its highest
// committed counter.
func (s *Store) GetRepoStates() ([]RepoState, error) {
	var out []RepoState
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				// not a nested bucket; messages never stores
				// top-level keys directly.
				return nil
			}
			peerBucket := root.Bucket(name)
			c := peerBucket.Cursor()
			k, _ := c.Last()
			if k == nil {
				return nil
			}
			nameCopy := string(name)
			out = append(out, RepoState{PeerID: nameCopy, Counter: binary.BigEndian.Uint64(k)})
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out, err
}

// InsertIndexedRow writes or overwrites one indexed row keyed by its
// order_id.
func (s *Store) InsertIndexedRow(row IndexedRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		enc, err := cbor.Marshal(&row)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndexed).Put([]byte(row.OrderID), enc)
	})
}

// UpdateFilePath sets file_path on every indexed row referencing
// fileID, returning the updated rows, equivalent to an
// UPDATE ... RETURNING over the indexed_messages table.
func (s *Store) UpdateFilePath(fileID, localPath string) ([]IndexedRow, error) {
	var updated []IndexedRow
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIndexed)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row IndexedRow
			if err := cbor.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.FileID != fileID {
				continue
			}
			row.FilePath = localPath
			enc, err := cbor.Marshal(&row)
			if err != nil {
				return err
			}
			if err := b.Put(k, enc); err != nil {
				return err
			}
			updated = append(updated, row)
		}
		return nil
	})
	return updated, err
}

// GetAllAfter returns every indexed row with order_id strictly greater
// than orderID (lexicographic, which matches numeric order because
// order_id zero-pads the order component), in order_id order. An empty
// orderID returns every row.
func (s *Store) GetAllAfter(orderID string) ([]IndexedRow, error) {
	var out []IndexedRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketIndexed).Cursor()
		var k, v []byte
		if orderID == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(orderID))
			if k != nil && string(k) == orderID {
				k, v = c.Next()
			}
		}
		for ; k != nil; k, v = c.Next() {
			var row IndexedRow
			if err := cbor.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

// SaveFile writes a new file descriptor, rejecting re-save of an
// existing file_id.
func (s *Store) SaveFile(desc FileDescriptor) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b.Get([]byte(desc.FileID)) != nil {
			return ErrDuplicateFile
		}
		enc, err := cbor.Marshal(&desc)
		if err != nil {
			return err
		}
		return b.Put([]byte(desc.FileID), enc)
	})
}

// GetFile looks up a file descriptor by id.
func (s *Store) GetFile(fileID string) (*FileDescriptor, error) {
	var desc FileDescriptor
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(fileID))
		if v == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(v, &desc)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &desc, nil
}

// ContainsFile reports whether fileID is in the local catalog.
func (s *Store) ContainsFile(fileID string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketFiles).Get([]byte(fileID)) != nil
		return nil
	})
	return found, err
}

// AllFileIDs returns every file_id in the local catalog.
func (s *Store) AllFileIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFiles).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

// UpsertPeer inserts or replaces a peer row.
func (s *Store) UpsertPeer(p PeerRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		enc, err := cbor.Marshal(&p)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketPeers).Put([]byte(p.ID), enc); err != nil {
			return err
		}
		if p.IsLocal {
			return tx.Bucket(bucketMeta).Put(metaLocalPeerKey, []byte(p.ID))
		}
		return nil
	})
}

// GetPeer looks up a peer row by id.
func (s *Store) GetPeer(peerID string) (*PeerRow, error) {
	var p PeerRow
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketPeers).Get([]byte(peerID))
		if v == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(v, &p)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &p, nil
}

// GetLocalPeer returns the single row flagged as the local identity,
// if one has been recorded yet.
func (s *Store) GetLocalPeer() (*PeerRow, error) {
	var id []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		id = tx.Bucket(bucketMeta).Get(metaLocalPeerKey)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ErrNotFound
	}
	return s.GetPeer(string(id))
}

// AllPeers returns every known peer row.
func (s *Store) AllPeers() ([]PeerRow, error) {
	var out []PeerRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPeers).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p PeerRow
			if err := cbor.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}
