// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"sync"
)

// PeerConnection is the connection being negotiated. It performs ICE
// and SDP itself; the client only relays its signals.
type PeerConnection interface {
	// Signal applies a signal produced by the remote side.
	Signal(signal Signal) error

	// Destroy closes the connection. It must be idempotent and emit
	// a close event if the connection was not closed already.
	Destroy() error
}

// PeerFactory creates PeerConnections. emit may be called from any
// goroutine, including synchronously from NewPeer or Signal.
type PeerFactory interface {
	NewPeer(options PeerOptions, emit func(PeerEvent)) (PeerConnection, error)
}

// PeerOptions configures a new PeerConnection.
type PeerOptions struct {
	// Initiator is true for the side that creates the first offer.
	Initiator bool

	// ChannelLabel names the data channel. Empty means the factory's
	// default.
	ChannelLabel string
}

// EventKind enumerates PeerEvent kinds.
type EventKind int

const (
	EventSignal EventKind = iota + 1
	EventConnect
	EventClose
	EventStream
	EventTrack
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnect:
		return "connect"
	case EventClose:
		return "close"
	case EventStream:
		return "stream"
	case EventTrack:
		return "track"
	case EventError:
		return "error"
	}
	return "unknown"
}

// PeerEvent is something a PeerConnection reports.
type PeerEvent struct {
	Kind EventKind

	// Signal is set for EventSignal.
	Signal Signal

	// Stream is set for EventStream and EventTrack. Track is set for
	// EventTrack. Their types depend on the PeerFactory.
	Stream any
	Track  any

	// Err is set for EventError.
	Err error
}

// Signal is one negotiation message: an SDP offer or answer, an ICE
// candidate, or a renegotiation request. The JSON form matches the one
// browsers exchange.
type Signal struct {
	Type      string         `json:"type,omitempty"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate *CandidateInit `json:"candidate,omitempty"`
}

// HasSDP reports whether the signal carries a session description.
func (s Signal) HasSDP() bool {
	return s.SDP != ""
}

// CandidateInit is an ICE candidate.
type CandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Peer is the application's handle on one negotiated connection.
type Peer struct {
	conn    PeerConnection
	session string
	remote  Identity

	mu        sync.Mutex
	listeners []*listener
}

type listener struct {
	fn func(PeerEvent)
}

// Connection returns the underlying PeerConnection, for access to the
// factory's concrete type.
func (p *Peer) Connection() PeerConnection { return p.conn }

// SessionID returns the scoped session id.
func (p *Peer) SessionID() string { return p.session }

// Remote returns the identity of the other party.
func (p *Peer) Remote() Identity { return p.remote }

// Destroy closes the connection.
func (p *Peer) Destroy() error { return p.conn.Destroy() }

// Listen registers fn for events delivered after this call. Events
// arrive in order on the client's task goroutine; fn must not block.
// The returned function removes the listener.
func (p *Peer) Listen(fn func(PeerEvent)) (cancel func()) {
	entry := &listener{fn: fn}
	p.mu.Lock()
	p.listeners = append(p.listeners, entry)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, candidate := range p.listeners {
			if candidate == entry {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Peer) emit(event PeerEvent) {
	p.mu.Lock()
	listeners := append([]*listener(nil), p.listeners...)
	p.mu.Unlock()
	for _, entry := range listeners {
		entry.fn(event)
	}
}
