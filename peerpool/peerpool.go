// Package peerpool owns every live connection to every other node:
// dialing a peer on demand (deduplicated so concurrent requests for the
// same peer share one handshake), accepting inbound connections,
// and handing each multiplexed stream off to a dispatcher once a
// session is established. A peer has at most one outgoing and one
// incoming session at a time; lookups prefer the outgoing one.
package peerpool

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xendarboh/chatnode/internal/syncutil"
	"github.com/xendarboh/chatnode/netmux"
	"github.com/xendarboh/chatnode/wire/cryptoconn"
	"github.com/xendarboh/chatnode/wire/handshake"

	logging "gopkg.in/op/go-logging.v1"
)

// dialTimeout bounds how long a single dial, including the handshake,
// may take before the caller gives up.
const dialTimeout = 10 * time.Second

// StreamHandler dispatches a single inbound logical stream to whatever
// reads the RPC request from it. Implemented by the sync engine.
type StreamHandler interface {
	HandleStream(peerID string, stream net.Conn)
}

// AddressBook resolves a peer id to a dialable network address. The
// pool consults it only when it has no live session and must dial.
type AddressBook struct {
	mu    sync.Mutex
	addrs map[string]string
}

// NewAddressBook constructs an empty address book.
func NewAddressBook() *AddressBook {
	return &AddressBook{addrs: make(map[string]string)}
}

// Set records addr as the dial address for peerID, overwriting any
// previous entry.
func (a *AddressBook) Set(peerID, addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addrs[peerID] = addr
}

// Get returns the dial address for peerID, if known.
func (a *AddressBook) Get(peerID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.addrs[peerID]
	return addr, ok
}

// Known returns every peer id this node has an address for.
func (a *AddressBook) Known() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.addrs))
	for id := range a.addrs {
		out = append(out, id)
	}
	return out
}

// liveSession is one established, multiplexed session and the loop
// dispatching its inbound streams.
type liveSession struct {
	sess       *netmux.Session
	peerID     string
	remoteAddr string
}

func (ls *liveSession) alive() bool { return !ls.sess.IsClosed() }

// Pool is the set of live sessions to other nodes.
type Pool struct {
	syncutil.Worker

	identity   handshake.Signer
	addrBook   *AddressBook
	dispatcher StreamHandler
	log        *logging.Logger

	mu        sync.Mutex
	outgoing  map[string]*liveSession
	incoming  map[string]*liveSession
	dialLocks map[string]*sync.Mutex
}

// New constructs a Pool. identity signs the handshake on outgoing and
// incoming connections alike; addrBook resolves peer ids to addresses
// for outgoing dials; dispatcher receives every inbound logical stream
// on every session, outgoing or incoming.
func New(identity handshake.Signer, addrBook *AddressBook, dispatcher StreamHandler, log *logging.Logger) *Pool {
	return &Pool{
		identity:   identity,
		addrBook:   addrBook,
		dispatcher: dispatcher,
		log:        log,
		outgoing:   make(map[string]*liveSession),
		incoming:   make(map[string]*liveSession),
		dialLocks:  make(map[string]*sync.Mutex),
	}
}

// Stop halts every accept loop and waits for them to exit.
func (p *Pool) Stop() {
	p.Halt()
	p.Wait()
}

// CurrentPeers returns the peer ids with at least one live session,
// outgoing or incoming.
func (p *Pool) CurrentPeers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	for id, s := range p.outgoing {
		if s.alive() {
			seen[id] = true
		}
	}
	for id, s := range p.incoming {
		if s.alive() {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// KnownPeers returns every peer id this node has an address for,
// whether or not a session is currently live.
func (p *Pool) KnownPeers() []string {
	return p.addrBook.Known()
}

// AddressBook exposes the pool's address book, for callers wiring in
// statically configured peers or addresses learned from a handshake.
func (p *Pool) AddressBook() *AddressBook { return p.addrBook }

func (p *Pool) dialLockFor(peerID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.dialLocks[peerID]
	if !ok {
		l = &sync.Mutex{}
		p.dialLocks[peerID] = l
	}
	return l
}

func (p *Pool) liveFor(peerID string) *liveSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.outgoing[peerID]; ok {
		if s.alive() {
			return s
		}
		delete(p.outgoing, peerID)
	}
	if s, ok := p.incoming[peerID]; ok {
		if s.alive() {
			return s
		}
		delete(p.incoming, peerID)
	}
	return nil
}

// Get returns a live session to peerID, dialing one if none exists.
// Concurrent calls for the same peer share a single dial attempt.
func (p *Pool) Get(peerID string) (*netmux.Session, error) {
	if s := p.liveFor(peerID); s != nil {
		return s.sess, nil
	}

	lock := p.dialLockFor(peerID)
	lock.Lock()
	defer lock.Unlock()

	// another goroutine may have finished dialing while we waited.
	if s := p.liveFor(peerID); s != nil {
		return s.sess, nil
	}
	return p.dial(peerID)
}

// OpenStream returns a fresh logical stream to peerID, dialing a
// session first if necessary.
func (p *Pool) OpenStream(peerID string) (net.Conn, error) {
	sess, err := p.Get(peerID)
	if err != nil {
		return nil, err
	}
	return sess.OpenStream()
}

func (p *Pool) dial(peerID string) (*netmux.Session, error) {
	addr, ok := p.addrBook.Get(peerID)
	if !ok {
		return nil, fmt.Errorf("peerpool: no known address for peer %s", peerID)
	}

	type result struct {
		sess *netmux.Session
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			resCh <- result{err: fmt.Errorf("peerpool: dial %s: %w", addr, err)}
			return
		}
		sess, remote, err := p.establishOutgoing(conn)
		if err != nil {
			conn.Close()
			resCh <- result{err: err}
			return
		}
		if remote != peerID {
			sess.Close()
			resCh <- result{err: fmt.Errorf("peerpool: dialed %s but handshake verified %s", peerID, remote)}
			return
		}
		resCh <- result{sess: sess}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		ls := &liveSession{sess: res.sess, peerID: peerID, remoteAddr: addr}
		p.mu.Lock()
		p.outgoing[peerID] = ls
		p.mu.Unlock()
		p.Go(func() { p.acceptLoop(ls) })
		return res.sess, nil
	case <-time.After(dialTimeout):
		return nil, fmt.Errorf("peerpool: dial %s: %w", peerID, ErrDialTimeout)
	}
}

func (p *Pool) establishOutgoing(conn net.Conn) (*netmux.Session, string, error) {
	hs, err := handshake.RunDialer(conn, p.identity)
	if err != nil {
		return nil, "", fmt.Errorf("peerpool: handshake: %w", err)
	}
	enc, err := cryptoconn.New(conn, &hs.SymmetricKey)
	if err != nil {
		return nil, "", fmt.Errorf("peerpool: cryptoconn: %w", err)
	}
	sess, err := netmux.NewClient(enc)
	if err != nil {
		return nil, "", fmt.Errorf("peerpool: mux: %w", err)
	}
	return sess, hs.RemotePeerID(), nil
}

// Accept runs the acceptor side of the handshake and session setup
// over a freshly accepted raw connection, then registers the result as
// an incoming session and starts dispatching its inbound streams.
// Called once per connection accepted by the listener.
func (p *Pool) Accept(conn net.Conn) error {
	remoteAddr := conn.RemoteAddr().String()
	hs, err := handshake.RunAcceptor(conn, p.identity)
	if err != nil {
		return fmt.Errorf("peerpool: handshake: %w", err)
	}
	enc, err := cryptoconn.New(conn, &hs.SymmetricKey)
	if err != nil {
		return fmt.Errorf("peerpool: cryptoconn: %w", err)
	}
	sess, err := netmux.NewServer(enc)
	if err != nil {
		return fmt.Errorf("peerpool: mux: %w", err)
	}

	peerID := hs.RemotePeerID()
	ls := &liveSession{sess: sess, peerID: peerID, remoteAddr: remoteAddr}
	p.mu.Lock()
	p.incoming[peerID] = ls
	p.mu.Unlock()
	p.addrBook.Set(peerID, remoteAddr)

	if p.log != nil {
		p.log.Infof("peerpool: accepted session from %s (%s)", peerID, remoteAddr)
	}
	p.Go(func() { p.acceptLoop(ls) })
	return nil
}

func (p *Pool) acceptLoop(ls *liveSession) {
	for {
		stream, err := ls.sess.AcceptStream()
		if err != nil {
			p.evict(ls)
			return
		}
		p.Go(func() { p.dispatcher.HandleStream(ls.peerID, stream) })
	}
}

func (p *Pool) evict(ls *liveSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.outgoing[ls.peerID]; ok && cur == ls {
		delete(p.outgoing, ls.peerID)
	}
	if cur, ok := p.incoming[ls.peerID]; ok && cur == ls {
		delete(p.incoming, ls.peerID)
	}
}

// ErrDialTimeout is returned when a dial and handshake together exceed
// the pool's fixed timeout.
var ErrDialTimeout = errors.New("dial timed out")
