package peerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBookSetGet(t *testing.T) {
	ab := NewAddressBook()
	_, ok := ab.Get("peer-a")
	require.False(t, ok)

	ab.Set("peer-a", "127.0.0.1:9000")
	addr, ok := ab.Get("peer-a")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9000", addr)

	ab.Set("peer-a", "127.0.0.1:9001")
	addr, ok = ab.Get("peer-a")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9001", addr)
}

func TestAddressBookKnown(t *testing.T) {
	ab := NewAddressBook()
	ab.Set("peer-a", "127.0.0.1:9000")
	ab.Set("peer-b", "127.0.0.1:9001")

	known := ab.Known()
	require.Len(t, known, 2)
	require.Contains(t, known, "peer-a")
	require.Contains(t, known, "peer-b")
}

func TestPoolGetUnknownPeerFails(t *testing.T) {
	ab := NewAddressBook()
	p := New(nil, ab, nil, nil)

	_, err := p.Get("no-such-peer")
	require.Error(t, err)
}

func TestPoolCurrentPeersEmpty(t *testing.T) {
	p := New(nil, NewAddressBook(), nil, nil)
	require.Empty(t, p.CurrentPeers())
}

func TestPoolKnownPeersReflectsAddressBook(t *testing.T) {
	ab := NewAddressBook()
	ab.Set("peer-a", "127.0.0.1:9000")
	p := New(nil, ab, nil, nil)

	require.Equal(t, []string{"peer-a"}, p.KnownPeers())
}
