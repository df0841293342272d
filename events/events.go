// Package events implements the domain event bus consumed by an
// external subscriber: a single fan-out channel carrying the closed
// set of event kinds named in §6 (Message, Peer).
package events

import (
	"github.com/xendarboh/chatnode/store"
)

// Kind discriminates the two event variants.
type Kind int

const (
	// KindMessage carries an indexed row, re-emitted whenever it is
	// first written or later updated with a resolved file path.
	KindMessage Kind = iota
	// KindPeer carries a newly learned peer identity.
	KindPeer
)

// Event is one domain event.
type Event struct {
	Kind    Kind
	Message *store.IndexedRow
	Peer    *store.PeerRow
}

// Bus is a single-producer-style fan-out channel; any number of
// producers may send, and Subscribe hands back an independent channel
// of the same stream to each subscriber.
type Bus struct {
	subs chan chan Event
	in   chan Event
	done chan struct{}
}

// New constructs an empty bus. Run must be started once to begin
// fanning out.
func New() *Bus {
	return &Bus{
		subs: make(chan chan Event, 8),
		in:   make(chan Event, 256),
		done: make(chan struct{}),
	}
}

// SendMessage publishes a Message event.
func (b *Bus) SendMessage(row store.IndexedRow) {
	select {
	case b.in <- Event{Kind: KindMessage, Message: &row}:
	case <-b.done:
	}
}

// SendPeer publishes a Peer event.
func (b *Bus) SendPeer(p store.PeerRow) {
	select {
	case b.in <- Event{Kind: KindPeer, Peer: &p}:
	case <-b.done:
	}
}

// Subscribe returns a channel that receives events published from this
// point forward until the bus is closed. The channel buffers 64 events;
// Run drops an event for a subscriber whose buffer is full.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	select {
	case b.subs <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Run drains publishes and fans them out to subscribers until done is
// closed; intended to be started once as a background goroutine.
func (b *Bus) Run() {
	var subscribers []chan Event
	for {
		select {
		case <-b.done:
			for _, s := range subscribers {
				close(s)
			}
			return
		case ch := <-b.subs:
			subscribers = append(subscribers, ch)
		case ev := <-b.in:
			for _, s := range subscribers {
				select {
				case s <- ev:
				default:
					// slow subscriber; drop rather than block the bus.
				}
			}
		}
	}
}

// Close stops Run and closes every subscriber channel.
func (b *Bus) Close() {
	close(b.done)
}
