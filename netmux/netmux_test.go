package netmux

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	client, err := NewClient(a)
	require.NoError(t, err)
	server, err := NewServer(b)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestOpenStreamAcceptStreamCarryData(t *testing.T) {
	client, server := newSessionPair(t)

	serverDone := make(chan struct{})
	var got []byte
	go func() {
		defer close(serverDone)
		s, err := server.AcceptStream()
		if err != nil {
			return
		}
		buf := make([]byte, 5)
		io.ReadFull(s, buf)
		got = buf
		s.Close()
	}()

	cs, err := client.OpenStream()
	require.NoError(t, err)
	_, err = cs.Write([]byte("hello"))
	require.NoError(t, err)
	cs.Close()

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted the stream")
	}
	require.Equal(t, "hello", string(got))
}

func TestCloseMarksSessionClosed(t *testing.T) {
	client, server := newSessionPair(t)
	_ = server

	require.False(t, client.IsClosed())
	require.NoError(t, client.Close())
	require.True(t, client.IsClosed())
}
