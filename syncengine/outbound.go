package syncengine

import (
	"context"
	"fmt"
	"os"

	"github.com/xendarboh/chatnode/queue"
	"github.com/xendarboh/chatnode/resolver"
	"github.com/xendarboh/chatnode/store"
	"github.com/xendarboh/chatnode/wire/chatpb"
	"github.com/xendarboh/chatnode/wire/rpc"
)

// BroadcastOwnAppend implements repo.Broadcaster: it fans a locally
// authored batch of appends out to every currently live peer as a
// single Messages RPC, attaching the identity record iff the batch
// includes counter 1 (so a fresh peer can authenticate it).
func (e *Engine) BroadcastOwnAppend(entries []store.MessageRow) {
	if len(entries) == 0 {
		return
	}
	live := e.pool.CurrentPeers()
	if len(live) == 0 {
		return
	}

	var identity *chatpb.Identity
	for _, row := range entries {
		if row.Counter == 1 {
			if peer, err := e.st.GetPeer(e.localPeerID); err == nil && peer != nil {
				identity = &chatpb.Identity{PeerID: peer.ID, PublicKey: peer.PublicKey}
			}
			break
		}
	}

	authorPeerID := entries[0].PeerID
	wireMsgs := toWireMessages(entries)
	for _, peerID := range live {
		peerID := peerID
		e.queue.Enqueue(queue.TaskFunc(func(ctx context.Context) error {
			return e.sendMessages(peerID, authorPeerID, wireMsgs, identity)
		}))
	}
}

func (e *Engine) sendMessages(peerID, authorPeerID string, msgs []*chatpb.Message, identity *chatpb.Identity) error {
	stream, err := e.pool.OpenStream(peerID)
	if err != nil {
		return fmt.Errorf("syncengine: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	req := &chatpb.ChatMessage{Messages: &chatpb.Messages{
		PeerID:   authorPeerID,
		Peer:     identity,
		Messages: msgs,
	}}
	if err := rpc.WriteRequest(stream, req); err != nil {
		return err
	}
	resps, err := rpc.ReadResponseCollect(stream)
	if err != nil {
		return err
	}
	if len(resps) == 0 || resps[0].MessageAccept == nil {
		return fmt.Errorf("syncengine: unexpected response to Messages from %s", peerID)
	}
	return nil
}

// DownloadFile implements resolver.Downloader: it opens a stream to
// peerID, requests fileID, and streams the response chunks to a fresh
// file at stagingPath, returning the extension the remote side reports.
func (e *Engine) DownloadFile(peerID, fileID, stagingPath string) (string, error) {
	stream, err := e.pool.OpenStream(peerID)
	if err != nil {
		return "", fmt.Errorf("syncengine: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	req := &chatpb.ChatMessage{FileDownloadRequest: &chatpb.FileDownloadRequest{FileID: fileID}}
	if err := rpc.WriteRequest(stream, req); err != nil {
		return "", err
	}

	f, err := os.Create(stagingPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var ext string
	err = rpc.ReadResponseStream(stream, func(msg *chatpb.ChatMessage) error {
		resp := msg.FileDownloadResponse
		if resp == nil {
			return fmt.Errorf("syncengine: unexpected response variant in file download from %s", peerID)
		}
		ext = resp.Ext
		if len(resp.Chunk) == 0 {
			return nil
		}
		_, err := f.Write(resp.Chunk)
		return err
	})
	if err != nil {
		return "", err
	}
	return ext, nil
}

// sweep is the periodic scheduler's action (§4.9): for every known
// peer, live or not, it enqueues a compare and a file-want probe. Using
// every known peer rather than only currently connected ones is what
// lets a statically configured or add-peer-added address get dialed at
// all, since nothing else in the engine initiates an outgoing
// connection to a peer it has never synced with.
func (e *Engine) sweep(ctx context.Context) error {
	states, err := e.manager.GetRepoStates()
	if err != nil {
		return err
	}
	wanted := e.resolver.NeedResolveIDs()
	knownPeers := e.pool.KnownPeers()

	if e.log != nil {
		e.log.Debugf("syncengine: sweep: %d known peers, %d known logs, %d wanted files", len(knownPeers), len(states), len(wanted))
	}

	for _, peerID := range knownPeers {
		peerID := peerID
		e.queue.Enqueue(queue.TaskFunc(func(ctx context.Context) error {
			return e.compareState(ctx, peerID, states)
		}))
		if len(wanted) > 0 {
			e.queue.Enqueue(queue.TaskFunc(func(ctx context.Context) error {
				return e.fileWant(ctx, peerID, wanted)
			}))
		}
	}
	return nil
}

func (e *Engine) compareState(ctx context.Context, peerID string, states []store.RepoState) error {
	stream, err := e.pool.OpenStream(peerID)
	if err != nil {
		return fmt.Errorf("syncengine: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	known := make(map[string]uint64, len(states))
	entries := make([]*chatpb.PeerCounter, len(states))
	for i, s := range states {
		entries[i] = &chatpb.PeerCounter{PeerID: s.PeerID, Counter: s.Counter}
		known[s.PeerID] = s.Counter
	}

	req := &chatpb.ChatMessage{CompareRequest: &chatpb.CompareRequest{Entries: entries}}
	if err := rpc.WriteRequest(stream, req); err != nil {
		return err
	}
	resps, err := rpc.ReadResponseCollect(stream)
	if err != nil {
		return err
	}
	if len(resps) == 0 || resps[0].CompareResponse == nil {
		return fmt.Errorf("syncengine: unexpected response to CompareRequest from %s", peerID)
	}

	for _, repoID := range resps[0].CompareResponse.PeerIDs {
		counter := known[repoID] // zero value if we don't know this log at all
		repoID, counter := repoID, counter
		e.queue.Enqueue(queue.TaskFunc(func(ctx context.Context) error {
			return e.batchRequest(ctx, peerID, repoID, counter)
		}))
	}
	return nil
}

func (e *Engine) batchRequest(ctx context.Context, peerID, repoID string, counter uint64) error {
	stream, err := e.pool.OpenStream(peerID)
	if err != nil {
		return fmt.Errorf("syncengine: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	req := &chatpb.ChatMessage{BatchMessageRequest: &chatpb.BatchMessageRequest{
		PeerID:    repoID,
		MyCounter: counter,
	}}
	if err := rpc.WriteRequest(stream, req); err != nil {
		return err
	}
	resps, err := rpc.ReadResponseCollect(stream)
	if err != nil {
		return err
	}
	if len(resps) == 0 || resps[0].BatchMessageResponse == nil {
		return fmt.Errorf("syncengine: unexpected response to BatchMessageRequest from %s", peerID)
	}
	resp := resps[0].BatchMessageResponse

	if resp.Peer != nil {
		if err := e.rememberPeer(resp.Peer.PeerID, resp.Peer.PublicKey); err != nil && e.log != nil {
			e.log.Warningf("syncengine: remember peer %s: %s", resp.Peer.PeerID, err)
		}
	}

	entries := fromWireMessages(resp.Messages)
	if len(entries) == 0 {
		return nil
	}
	return e.manager.AppendRemoteBatch(repoID, entries)
}

func (e *Engine) fileWant(ctx context.Context, peerID string, fileIDs []string) error {
	stream, err := e.pool.OpenStream(peerID)
	if err != nil {
		return fmt.Errorf("syncengine: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	req := &chatpb.ChatMessage{FileWantRequest: &chatpb.FileWantRequest{FileIDs: fileIDs}}
	if err := rpc.WriteRequest(stream, req); err != nil {
		return err
	}
	resps, err := rpc.ReadResponseCollect(stream)
	if err != nil {
		return err
	}
	if len(resps) == 0 || resps[0].FileWantResponse == nil {
		return fmt.Errorf("syncengine: unexpected response to FileWantRequest from %s", peerID)
	}
	e.resolver.PeerAdvertises(peerID, resps[0].FileWantResponse.FileIDs)
	return nil
}

var _ resolver.Downloader = (*Engine)(nil)
