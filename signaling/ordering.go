// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

// orderingShim sits between a PeerConnection's raw events and the
// Peer's listeners. Listeners see connect first, then any stream and
// track events that were reported before it, then live events.
//
// On connect, the shim spends two queue turns: the first delivers
// connect, the second replays the buffer and switches to live delivery.
// Listeners registered while handling connect therefore still receive
// the replayed events.
type orderingShim struct {
	peer *Peer
	post func(func()) bool

	connected bool
	live      bool
	buffered  []PeerEvent
}

func newOrderingShim(peer *Peer, post func(func()) bool) *orderingShim {
	return &orderingShim{peer: peer, post: post}
}

// handle takes one raw event other than signal. It reports true for
// the first connect.
func (o *orderingShim) handle(event PeerEvent) bool {
	switch event.Kind {
	case EventConnect:
		if o.connected {
			return false
		}
		o.connected = true
		o.post(o.deliverConnect)
		return true

	case EventStream, EventTrack:
		if !o.live {
			o.buffered = append(o.buffered, event)
			return false
		}

	default:
		// close and error keep their place behind a pending replay.
		if o.connected && !o.live {
			o.buffered = append(o.buffered, event)
			return false
		}
	}
	o.peer.emit(event)
	return false
}

func (o *orderingShim) deliverConnect() {
	o.peer.emit(PeerEvent{Kind: EventConnect})
	o.post(o.replay)
}

func (o *orderingShim) replay() {
	for len(o.buffered) > 0 {
		event := o.buffered[0]
		o.buffered = o.buffered[1:]
		o.peer.emit(event)
	}
	o.buffered = nil
	o.live = true
}
