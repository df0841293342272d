package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/chatnode/store"
)

func TestSubscribeReceivesMessageAndPeerEvents(t *testing.T) {
	b := New()
	go b.Run()
	defer b.Close()

	ch := b.Subscribe()
	b.SendMessage(store.IndexedRow{OrderID: "1", Text: "hi"})
	b.SendPeer(store.PeerRow{ID: "p1"})

	ev := requireRecv(t, ch)
	require.Equal(t, KindMessage, ev.Kind)
	require.Equal(t, "hi", ev.Message.Text)

	ev = requireRecv(t, ch)
	require.Equal(t, KindPeer, ev.Kind)
	require.Equal(t, "p1", ev.Peer.ID)
}

func TestMultipleSubscribersEachGetTheStream(t *testing.T) {
	b := New()
	go b.Run()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()
	b.SendMessage(store.IndexedRow{OrderID: "1"})

	requireRecv(t, a)
	requireRecv(t, c)
}

func TestCloseClosesEverySubscriberChannel(t *testing.T) {
	b := New()
	go b.Run()

	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was never closed")
	}
}

func requireRecv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
