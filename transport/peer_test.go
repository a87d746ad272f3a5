// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/rendezvous/lib/testutil"
	"github.com/bureau-foundation/rendezvous/signaling"
)

const connectTimeout = 30 * time.Second

// peerPair wires two Peers back to back: every signal one emits is
// applied to the other, and every other event is collected.
type peerPair struct {
	initiator, responder *Peer
	initiatorEvents      chan signaling.PeerEvent
	responderEvents      chan signaling.PeerEvent
}

func newPeerPair(t *testing.T) *peerPair {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := NewPeerFactory(FactoryConfig{IncludeLoopback: true, Logger: logger})

	initiatorRaw := make(chan signaling.PeerEvent, 256)
	responderRaw := make(chan signaling.PeerEvent, 256)
	pair := &peerPair{
		initiatorEvents: make(chan signaling.PeerEvent, 64),
		responderEvents: make(chan signaling.PeerEvent, 64),
	}

	initiator, err := factory.NewPeer(signaling.PeerOptions{Initiator: true, ChannelLabel: "test"},
		func(event signaling.PeerEvent) { initiatorRaw <- event })
	if err != nil {
		t.Fatalf("NewPeer(initiator): %v", err)
	}
	responder, err := factory.NewPeer(signaling.PeerOptions{ChannelLabel: "test"},
		func(event signaling.PeerEvent) { responderRaw <- event })
	if err != nil {
		t.Fatalf("NewPeer(responder): %v", err)
	}
	pair.initiator = initiator.(*Peer)
	pair.responder = responder.(*Peer)
	t.Cleanup(func() {
		pair.initiator.Destroy()
		pair.responder.Destroy()
	})

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go pump(t, initiatorRaw, pair.responder, pair.initiatorEvents, done)
	go pump(t, responderRaw, pair.initiator, pair.responderEvents, done)
	return pair
}

// pump applies signals from raw to target, one at a time, and forwards
// everything else to events.
func pump(t *testing.T, raw <-chan signaling.PeerEvent, target *Peer, events chan<- signaling.PeerEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event := <-raw:
			if event.Kind != signaling.EventSignal {
				events <- event
				continue
			}
			if err := target.Signal(event.Signal); err != nil {
				t.Errorf("applying %s signal: %v", event.Signal.Type, err)
			}
		}
	}
}

func waitForEvent(t *testing.T, events <-chan signaling.PeerEvent, kind signaling.EventKind) signaling.PeerEvent {
	t.Helper()
	deadline := time.After(connectTimeout)
	for {
		select {
		case event := <-events:
			if event.Kind == kind {
				return event
			}
			if event.Kind == signaling.EventError {
				t.Fatalf("peer error while waiting for %s: %v", kind, event.Err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestPeerConnectAndExchangeData(t *testing.T) {
	pair := newPeerPair(t)

	if _, err := pair.initiator.Conn(); err != ErrNotConnected {
		t.Fatalf("Conn before connect: err = %v, want ErrNotConnected", err)
	}

	waitForEvent(t, pair.initiatorEvents, signaling.EventConnect)
	waitForEvent(t, pair.responderEvents, signaling.EventConnect)

	initiatorConn, err := pair.initiator.Conn()
	if err != nil {
		t.Fatalf("initiator Conn: %v", err)
	}
	responderConn, err := pair.responder.Conn()
	if err != nil {
		t.Fatalf("responder Conn: %v", err)
	}
	if initiatorConn.LocalAddr().Network() != "webrtc" {
		t.Errorf("LocalAddr().Network() = %q", initiatorConn.LocalAddr().Network())
	}

	message := []byte("hello over the data channel")
	go func() {
		if _, err := initiatorConn.Write(message); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()
	buffer := make([]byte, 256)
	responderConn.SetReadDeadline(time.Now().Add(connectTimeout))
	read, err := responderConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buffer[:read]) != string(message) {
		t.Errorf("read %q, want %q", buffer[:read], message)
	}
}

func TestPeerDestroyEmitsCloseOnce(t *testing.T) {
	pair := newPeerPair(t)
	waitForEvent(t, pair.initiatorEvents, signaling.EventConnect)

	if err := pair.initiator.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	pair.initiator.Destroy()
	waitForEvent(t, pair.initiatorEvents, signaling.EventClose)

	for {
		select {
		case event := <-pair.initiatorEvents:
			if event.Kind == signaling.EventClose {
				t.Fatal("second close event")
			}
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
}

func TestPeerQueuesEarlyCandidates(t *testing.T) {
	factory := NewPeerFactory(FactoryConfig{IncludeLoopback: true})
	events := make(chan signaling.PeerEvent, 64)
	peer, err := factory.NewPeer(signaling.PeerOptions{}, func(event signaling.PeerEvent) { events <- event })
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer peer.Destroy()

	candidate := signaling.Signal{Type: "candidate", Candidate: &signaling.CandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	}}
	if err := peer.Signal(candidate); err != nil {
		t.Fatalf("candidate before remote description: %v", err)
	}
	if queued := len(peer.(*Peer).candidates); queued != 1 {
		t.Fatalf("%d candidates queued, want 1", queued)
	}
}

func TestPeerRejectsUnknownSignals(t *testing.T) {
	factory := NewPeerFactory(FactoryConfig{})
	peer, err := factory.NewPeer(signaling.PeerOptions{}, func(signaling.PeerEvent) {})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer peer.Destroy()

	if err := peer.Signal(signaling.Signal{Type: "bogus"}); err == nil {
		t.Error("unknown signal accepted")
	}
	if err := peer.Signal(signaling.Signal{Type: "bogus", SDP: "v=0"}); err == nil {
		t.Error("unknown SDP type accepted")
	}
	if err := peer.Signal(signaling.Signal{Type: signalRenegotiate}); err == nil {
		t.Error("responder accepted a renegotiation request")
	}
}

func TestInitiatorOffersImmediately(t *testing.T) {
	factory := NewPeerFactory(FactoryConfig{})
	events := make(chan signaling.PeerEvent, 64)
	peer, err := factory.NewPeer(signaling.PeerOptions{Initiator: true}, func(event signaling.PeerEvent) { events <- event })
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer peer.Destroy()

	event := testutil.RequireReceive(t, events, 5*time.Second, "initial offer")
	for event.Kind == signaling.EventSignal && !event.Signal.HasSDP() {
		event = testutil.RequireReceive(t, events, 5*time.Second, "initial offer")
	}
	if event.Kind != signaling.EventSignal || event.Signal.Type != "offer" {
		t.Fatalf("first description event = %+v, want an offer", event)
	}
}
