// Package netmux layers a Yamux-style multiplexed session over an
// already-authenticated, already-encrypted net.Conn (see wire/handshake
// and wire/cryptoconn), exposing exactly the three operations the rest
// of this module needs: open a stream, accept a stream, close the
// session.
package netmux

import (
	"net"
	"time"

	"github.com/hashicorp/yamux"
)

// Session is one multiplexed connection to one remote peer.
type Session struct {
	mux *yamux.Session
}

func config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	return cfg
}

// NewClient wraps conn as the dialer's side of a session.
func NewClient(conn net.Conn) (*Session, error) {
	mux, err := yamux.Client(conn, config())
	if err != nil {
		return nil, err
	}
	return &Session{mux: mux}, nil
}

// NewServer wraps conn as the acceptor's side of a session.
func NewServer(conn net.Conn) (*Session, error) {
	mux, err := yamux.Server(conn, config())
	if err != nil {
		return nil, err
	}
	return &Session{mux: mux}, nil
}

// OpenStream opens a new logical stream on the session.
func (s *Session) OpenStream() (net.Conn, error) {
	return s.mux.OpenStream()
}

// AcceptStream blocks until a remotely opened stream arrives.
func (s *Session) AcceptStream() (net.Conn, error) {
	return s.mux.AcceptStream()
}

// Close tears down the session and every stream on it.
func (s *Session) Close() error {
	return s.mux.Close()
}

// IsClosed reports whether the session has been closed, either locally
// or by an observed I/O failure on the underlying connection.
func (s *Session) IsClosed() bool {
	select {
	case <-s.mux.CloseChan():
		return true
	default:
		return false
	}
}
