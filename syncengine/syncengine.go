// Package syncengine is the serving side of the protocol and the
// source of every outbound exchange (§4.9): it dispatches each
// inbound RPC on a freshly accepted stream, runs a periodic sweep that
// probes every known peer, live or not, for newer state and wanted files, and
// broadcasts locally authored appends to every live peer.
package syncengine

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/xendarboh/chatnode/events"
	"github.com/xendarboh/chatnode/filecatalog"
	"github.com/xendarboh/chatnode/peerpool"
	"github.com/xendarboh/chatnode/queue"
	"github.com/xendarboh/chatnode/repo"
	"github.com/xendarboh/chatnode/resolver"
	"github.com/xendarboh/chatnode/store"
	"github.com/xendarboh/chatnode/wire/chatpb"
	"github.com/xendarboh/chatnode/wire/rpc"

	logging "gopkg.in/op/go-logging.v1"
)

// downloadChunkSize bounds a single FileDownloadResponse chunk (§4.9).
const downloadChunkSize = 8 * 1024

// Engine wires the repository manager, file catalog, resolver, and
// peer pool together as the sync protocol's server and client.
//
// Engine satisfies repo.Broadcaster, resolver.Downloader, and
// peerpool.StreamHandler; the three packages it depends on are never
// told about Engine itself, only about these narrow interfaces, wired
// in by whatever constructs all of them together (see cmd/chatnode).
type Engine struct {
	localPeerID string

	manager  *repo.Manager
	catalog  *filecatalog.Catalog
	resolver *resolver.Resolver
	pool     *peerpool.Pool
	st       *store.Store
	bus      *events.Bus

	queue     *queue.Queue
	scheduler *queue.Scheduler
	log       *logging.Logger
}

// New constructs an Engine. workers and sweepInterval size the worker
// queue and periodic scheduler (§4.10); both default (DefaultWorkers,
// 10s) when zero. The resolver and peer pool are wired in afterward via
// SetResolver/SetPool, since both of them need Engine itself (as
// Downloader and StreamHandler respectively) already constructed —
// the same construct-then-wire pattern as repo.Manager's
// SetIndexer/SetBroadcaster.
func New(
	localPeerID string,
	manager *repo.Manager,
	catalog *filecatalog.Catalog,
	st *store.Store,
	bus *events.Bus,
	workers int,
	sweepInterval time.Duration,
	log *logging.Logger,
) *Engine {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	e := &Engine{
		localPeerID: localPeerID,
		manager:     manager,
		catalog:     catalog,
		st:          st,
		bus:         bus,
		log:         log,
	}
	e.queue = queue.New(workers, log)
	e.scheduler = queue.NewScheduler(sweepInterval, e.sweep, log)
	return e
}

// SetResolver wires the resolver that tracks wanted files. Must be
// called once before Run, after constructing the resolver with this
// Engine as its Downloader.
func (e *Engine) SetResolver(r *resolver.Resolver) { e.resolver = r }

// SetPool wires the peer pool used for every outbound stream. Must be
// called once before Run, after constructing the pool with this Engine
// as its StreamHandler.
func (e *Engine) SetPool(p *peerpool.Pool) { e.pool = p }

// Run starts the periodic sweep. The worker queue is already running
// once New returns.
func (e *Engine) Run() {
	e.scheduler.Run()
}

// Stop halts the sweep and drains the worker queue.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.queue.Stop()
}

// QueueDepth exposes the outstanding task count for metrics.
func (e *Engine) QueueDepth() int64 { return e.queue.Depth() }

// HandleStream implements peerpool.StreamHandler: it reads the single
// request frame from stream, dispatches it, and closes the stream once
// the handler returns.
func (e *Engine) HandleStream(peerID string, stream net.Conn) {
	defer stream.Close()
	req, err := rpc.ReadRequest(stream)
	if err != nil {
		if e.log != nil {
			e.log.Warningf("syncengine: read request from %s: %s", peerID, err)
		}
		return
	}
	if err := e.dispatch(peerID, stream, req); err != nil && e.log != nil {
		e.log.Warningf("syncengine: handling request from %s: %s", peerID, err)
	}
}

func (e *Engine) dispatch(peerID string, stream net.Conn, req *chatpb.ChatMessage) error {
	switch {
	case req.CompareRequest != nil:
		return e.handleCompare(stream, req.CompareRequest)
	case req.BatchMessageRequest != nil:
		return e.handleBatchRequest(stream, req.BatchMessageRequest)
	case req.Messages != nil:
		return e.handleMessages(stream, req.Messages)
	case req.FileWantRequest != nil:
		return e.handleFileWant(stream, req.FileWantRequest)
	case req.FileDownloadRequest != nil:
		return e.handleFileDownload(stream, req.FileDownloadRequest)
	default:
		return fmt.Errorf("syncengine: request carries no known variant")
	}
}

func (e *Engine) handleCompare(stream net.Conn, req *chatpb.CompareRequest) error {
	mine, err := e.manager.GetRepoStates()
	if err != nil {
		return err
	}
	theirs := make(map[string]uint64, len(req.Entries))
	for _, entry := range req.Entries {
		theirs[entry.PeerID] = entry.Counter
	}

	var behind []string
	for _, s := range mine {
		counter, known := theirs[s.PeerID]
		if !known || counter < s.Counter {
			behind = append(behind, s.PeerID)
		}
	}

	resp := &chatpb.ChatMessage{CompareResponse: &chatpb.CompareResponse{PeerIDs: behind}}
	return writeSingleResponse(stream, resp)
}

func (e *Engine) handleBatchRequest(stream net.Conn, req *chatpb.BatchMessageRequest) error {
	r, err := e.manager.GetOrCreateRepository(req.PeerID)
	if err != nil {
		return err
	}
	mine := r.GetState()

	resp := &chatpb.BatchMessageResponse{}
	if req.MyCounter < mine {
		rows, err := r.GetAfter(req.MyCounter)
		if err != nil {
			return err
		}
		resp.Messages = toWireMessages(rows)
	}
	if req.MyCounter == 0 {
		if peer, err := e.st.GetPeer(req.PeerID); err == nil && peer != nil {
			resp.Peer = &chatpb.Identity{PeerID: peer.ID, PublicKey: peer.PublicKey}
		}
	}
	return writeSingleResponse(stream, &chatpb.ChatMessage{BatchMessageResponse: resp})
}

func (e *Engine) handleMessages(stream net.Conn, req *chatpb.Messages) error {
	if req.Peer != nil {
		if err := e.rememberPeer(req.Peer.PeerID, req.Peer.PublicKey); err != nil && e.log != nil {
			e.log.Warningf("syncengine: remember peer %s: %s", req.Peer.PeerID, err)
		}
	}

	entries := fromWireMessages(req.Messages)
	if len(entries) > 0 {
		if err := e.manager.AppendRemoteBatch(req.PeerID, entries); err != nil && e.log != nil {
			e.log.Infof("syncengine: append batch for %s: %s", req.PeerID, err)
		}
	}

	// Always reply with the current counter, even if the append above
	// failed: the counter tells the caller exactly what to retry (§4.9).
	r, err := e.manager.GetOrCreateRepository(req.PeerID)
	if err != nil {
		return err
	}
	resp := &chatpb.ChatMessage{MessageAccept: &chatpb.MessageAccept{Counter: r.GetState()}}
	return writeSingleResponse(stream, resp)
}

func (e *Engine) handleFileWant(stream net.Conn, req *chatpb.FileWantRequest) error {
	ids, err := e.catalog.Intersect(req.FileIDs)
	if err != nil {
		return err
	}
	resp := &chatpb.ChatMessage{FileWantResponse: &chatpb.FileWantResponse{FileIDs: ids}}
	return writeSingleResponse(stream, resp)
}

func (e *Engine) handleFileDownload(stream net.Conn, req *chatpb.FileDownloadRequest) error {
	desc, err := e.catalog.Get(req.FileID)
	if err != nil {
		return fmt.Errorf("syncengine: file %s not found: %w", req.FileID, err)
	}
	f, err := os.Open(desc.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := &chatpb.ChatMessage{FileDownloadResponse: &chatpb.FileDownloadResponse{
				Ext:   desc.Format,
				Chunk: append([]byte(nil), buf[:n]...),
			}}
			if err := rpc.WriteResponseChunk(stream, chunk); err != nil {
				return err
			}
		}
		if readErr != nil {
			break
		}
	}

	final := &chatpb.ChatMessage{FileDownloadResponse: &chatpb.FileDownloadResponse{
		Ext:       desc.Format,
		LastChunk: true,
	}}
	if err := rpc.WriteResponseChunk(stream, final); err != nil {
		return err
	}
	return rpc.WriteEOF(stream)
}

// rememberPeer persists a newly learned identity and emits a Peer
// event, unless the peer is already known.
func (e *Engine) rememberPeer(peerID string, publicKey []byte) error {
	existing, err := e.st.GetPeer(peerID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if existing != nil {
		return nil
	}
	row := store.PeerRow{ID: peerID, PublicKey: publicKey, CreatedAt: time.Now().Unix()}
	if err := e.st.UpsertPeer(row); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.SendPeer(row)
	}
	return nil
}

func writeSingleResponse(stream net.Conn, resp *chatpb.ChatMessage) error {
	if err := rpc.WriteResponseChunk(stream, resp); err != nil {
		return err
	}
	return rpc.WriteEOF(stream)
}

func toWireMessages(rows []store.MessageRow) []*chatpb.Message {
	out := make([]*chatpb.Message, len(rows))
	for i, r := range rows {
		out[i] = &chatpb.Message{
			ID:        r.ID,
			PeerID:    r.PeerID,
			Counter:   r.Counter,
			Order:     r.Order,
			Timestamp: r.Timestamp,
			Payload:   r.Payload,
		}
	}
	return out
}

func fromWireMessages(msgs []*chatpb.Message) []store.MessageRow {
	out := make([]store.MessageRow, len(msgs))
	for i, m := range msgs {
		out[i] = store.MessageRow{
			ID:        m.ID,
			PeerID:    m.PeerID,
			Counter:   m.Counter,
			Order:     m.Order,
			Timestamp: m.Timestamp,
			Payload:   m.Payload,
		}
	}
	return out
}

var (
	_ repo.Broadcaster       = (*Engine)(nil)
	_ peerpool.StreamHandler = (*Engine)(nil)
)
