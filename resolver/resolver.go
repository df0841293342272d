// Package resolver drives acquisition of files referenced by message
// payloads (§4.8): it tracks which file ids are wanted and which peers
// are known to advertise them, and runs a background loop that
// downloads a file once some peer advertises it, retrying against
// other peers on failure and backing off when none remain.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xendarboh/chatnode/events"
	"github.com/xendarboh/chatnode/filecatalog"
	"github.com/xendarboh/chatnode/indexer"
	"github.com/xendarboh/chatnode/internal/syncutil"
	"github.com/xendarboh/chatnode/store"

	logging "gopkg.in/op/go-logging.v1"
)

// backoff is the delay before re-entering the wanted state when no
// peer currently advertises a file (§4.8).
const backoff = 5 * time.Second

// Downloader is satisfied by the sync engine: it opens a stream to
// peerID, issues a FileDownloadRequest for fileID, and writes the
// streamed chunks to stagingPath, returning the file's extension.
type Downloader interface {
	DownloadFile(peerID, fileID, stagingPath string) (ext string, err error)
}

// ResolveWant is one item on the resolve queue: "try to resolve
// fileID again." FailedPeers is neither filled in nor read by the
// resolve loop; a peer whose download fails is instead removed from the
// file's peers_have list.
type ResolveWant struct {
	FileID      string
	FailedPeers []string
}

// Resolver owns the need_resolve/peers_have state and the background
// loop that drains it.
type Resolver struct {
	syncutil.Worker

	mu          sync.Mutex
	needResolve map[string]bool
	peersHave   map[string][]string

	wantCh chan ResolveWant

	catalog    *filecatalog.Catalog
	indexer    *indexer.Indexer
	downloader Downloader
	bus        *events.Bus
	stagingDir string
	log        *logging.Logger
}

// New constructs a Resolver. stagingDir is where in-flight downloads
// are written before being renamed to their final, extension-bearing
// path.
func New(catalog *filecatalog.Catalog, ix *indexer.Indexer, downloader Downloader, bus *events.Bus, stagingDir string, log *logging.Logger) *Resolver {
	return &Resolver{
		needResolve: make(map[string]bool),
		peersHave:   make(map[string][]string),
		wantCh:      make(chan ResolveWant, 1024),
		catalog:     catalog,
		indexer:     ix,
		downloader:  downloader,
		bus:         bus,
		stagingDir:  stagingDir,
		log:         log,
	}
}

// Run starts the background resolve loop.
func (r *Resolver) Run() {
	r.Go(r.loop)
}

// Stop signals the resolve loop to exit and waits for it.
func (r *Resolver) Stop() {
	r.Halt()
	r.Wait()
}

// MarkWant records fileID as wanted, optionally noting a peer already
// known to have it, and enqueues a resolve attempt. Its caller is the
// file-resolve command; the indexer does not call it, so a file named
// by an indexed message is not marked wanted by indexing alone.
func (r *Resolver) MarkWant(fileID string, peer string) {
	r.mu.Lock()
	r.needResolve[fileID] = true
	if peer != "" {
		r.addPeerHaveLocked(fileID, peer)
	}
	r.mu.Unlock()
	r.enqueue(ResolveWant{FileID: fileID})
}

// PeerAdvertises records that peerID advertises every id in fileIDs
// that this node currently wants, and enqueues a resolve attempt for
// each. Called with the response to an outbound FileWantRequest.
func (r *Resolver) PeerAdvertises(peerID string, fileIDs []string) {
	for _, id := range fileIDs {
		r.mu.Lock()
		wanted := r.needResolve[id]
		if wanted {
			r.addPeerHaveLocked(id, peerID)
		}
		r.mu.Unlock()
		if wanted {
			r.enqueue(ResolveWant{FileID: id})
		}
	}
}

// NeedResolveIDs returns every file id currently wanted but not yet
// resolved, for the sync engine's periodic FileWantTask.
func (r *Resolver) NeedResolveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.needResolve))
	for id := range r.needResolve {
		ids = append(ids, id)
	}
	return ids
}

func (r *Resolver) addPeerHaveLocked(fileID, peerID string) {
	for _, p := range r.peersHave[fileID] {
		if p == peerID {
			return
		}
	}
	r.peersHave[fileID] = append(r.peersHave[fileID], peerID)
}

func (r *Resolver) removePeerHave(fileID, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := r.peersHave[fileID]
	out := peers[:0]
	for _, p := range peers {
		if p != peerID {
			out = append(out, p)
		}
	}
	r.peersHave[fileID] = out
}

func (r *Resolver) peersFor(fileID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.peersHave[fileID]))
	copy(out, r.peersHave[fileID])
	return out
}

func (r *Resolver) resolved(fileID string) {
	r.mu.Lock()
	delete(r.needResolve, fileID)
	delete(r.peersHave, fileID)
	r.mu.Unlock()
}

func (r *Resolver) enqueue(w ResolveWant) {
	select {
	case r.wantCh <- w:
	case <-r.HaltCh():
	}
}

func (r *Resolver) loop() {
	for {
		select {
		case <-r.HaltCh():
			return
		case w := <-r.wantCh:
			r.handle(w)
		}
	}
}

func (r *Resolver) handle(w ResolveWant) {
	if ok, err := r.catalog.Contains(w.FileID); err == nil && ok {
		r.resolved(w.FileID)
		return
	}

	peers := r.peersFor(w.FileID)
	if len(peers) == 0 {
		r.Go(func() {
			select {
			case <-time.After(backoff):
				r.enqueue(ResolveWant{FileID: w.FileID})
			case <-r.HaltCh():
			}
		})
		return
	}

	peerID := peers[0]
	r.Go(func() {
		r.attemptDownload(w.FileID, peerID)
	})
}

func (r *Resolver) attemptDownload(fileID, peerID string) {
	stagingPath := filepath.Join(r.stagingDir, fileID)
	ext, err := r.downloader.DownloadFile(peerID, fileID, stagingPath)
	if err != nil {
		if r.log != nil {
			r.log.Warningf("resolver: download of %s from %s failed: %s", fileID, peerID, err)
		}
		r.removePeerHave(fileID, peerID)
		r.enqueue(ResolveWant{FileID: fileID})
		return
	}

	finalPath := stagingPath
	if ext != "" {
		finalPath = fmt.Sprintf("%s.%s", stagingPath, ext)
		if err := os.Rename(stagingPath, finalPath); err != nil {
			if r.log != nil {
				r.log.Errorf("resolver: rename staged file %s: %s", fileID, err)
			}
			return
		}
	}

	desc := store.FileDescriptor{
		FileID:    fileID,
		Format:    ext,
		LocalPath: finalPath,
		Timestamp: time.Now().Unix(),
	}
	if err := r.catalog.Save(desc); err != nil {
		if r.log != nil {
			r.log.Errorf("resolver: save descriptor for %s: %s", fileID, err)
		}
		return
	}
	if err := r.indexer.UpdateFilePath(fileID, finalPath); err != nil && r.log != nil {
		r.log.Errorf("resolver: update file path for %s: %s", fileID, err)
	}
	r.resolved(fileID)
}
