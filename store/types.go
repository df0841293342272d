// Package store is the persistence collaborator: a single embedded,
// transactional, key-indexed store implementing every table named in
// §6 of the specification (messages, indexed_messages, files, peers).
// The repository, indexer, and file catalog use the concrete *Store
// type defined in bolt.go directly; no interface stands between them
// and the embedded store.
package store

// MessageRow is one stored log entry, the durable form of a message.
type MessageRow struct {
	ID        string
	PeerID    string
	Counter   uint64
	Order     uint64
	Timestamp int64
	Payload   []byte
}

// RepoState summarizes one authoring peer's highest committed counter.
type RepoState struct {
	PeerID  string
	Counter uint64
}

// IndexedRow is one row of the derived, order-keyed view.
type IndexedRow struct {
	OrderID  string
	Order    uint64
	PeerID   string
	Text     string
	Mentions []string
	ReplyID  string
	FileID   string
	FilePath string
}

// FileDescriptor is one entry of the local file catalog.
type FileDescriptor struct {
	FileID    string
	Format    string
	LocalPath string
	Timestamp int64
}

// PeerRow is one row of the peer identity table; it holds no network
// address.
type PeerRow struct {
	ID        string
	Name      string
	CreatedAt int64
	PublicKey []byte
	// SigningKeySeed is deliberately left unpopulated: the local
	// node's private key material lives in the identity package's
	// guarded, separately encrypted store, not here. The column is
	// retained for interface fidelity with the table shape named in
	// the specification; IsLocal below is how this store answers
	// "which row is the local identity" instead of scanning for a
	// non-null signing key.
	SigningKeySeed []byte
	IsLocal        bool
}
