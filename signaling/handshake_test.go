// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/clock"
	"github.com/bureau-foundation/rendezvous/lib/testutil"
)

// The tests in this file run full clients against bus.Nodes sharing a
// MemoryHub.

func TestConnectAcceptOverBus(t *testing.T) {
	hub := bus.NewMemoryHub(nil)
	clk := clock.Real()

	requests := make(chan *Request, 1)
	alice := newHubClient(t, hub, clk, Config{
		RoomPassword: "room",
		Peers:        newFakeFactory(true),
		OnRequest:    func(r *Request) { requests <- r },
	})
	discoveries := make(chan Discovery, 1)
	bob := newHubClient(t, hub, clk, Config{
		RoomPassword: "room",
		Peers:        newFakeFactory(true),
		OnDiscover:   func(d Discovery) { discoveries <- d },
	})

	alice.Discover(map[string]any{"name": "alice"})
	discovery := testutil.RequireReceive(t, discoveries, waitTimeout, "bob discovers alice")
	aliceIdentity, _ := alice.Identity()
	if discovery.Identity != aliceIdentity {
		t.Fatalf("discovered %+v, want %+v", discovery.Identity, aliceIdentity)
	}

	firstEvent := make(chan EventKind, 4)
	initiated, err := bob.Connect(discovery.Identity, Metadata{"from": "bob"}, Options{
		OnEvent: func(event PeerEvent) { firstEvent <- event.Kind },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	request := testutil.RequireReceive(t, requests, waitTimeout, "alice receives request")
	bobIdentity, _ := bob.Identity()
	if request.Initiator != bobIdentity || request.Metadata["from"] != "bob" {
		t.Fatalf("request from %+v with %v", request.Initiator, request.Metadata)
	}
	accepted := request.Accept(Metadata{"from": "alice"}, Options{})

	responderSide, err := waitFuture(t, accepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if responderSide.Metadata["from"] != "bob" {
		t.Errorf("responder got metadata %v", responderSide.Metadata)
	}
	initiatorSide, err := waitFuture(t, initiated)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if initiatorSide.Metadata["from"] != "alice" {
		t.Errorf("initiator got metadata %v", initiatorSide.Metadata)
	}
	if initiatorSide.Peer.Remote() != aliceIdentity {
		t.Errorf("initiator peer remote = %+v", initiatorSide.Peer.Remote())
	}
	if kind := testutil.RequireReceive(t, firstEvent, waitTimeout, "first event"); kind != EventConnect {
		t.Errorf("first event = %v, want connect", kind)
	}
	if len(alice.Peers()) != 1 || len(bob.Peers()) != 1 {
		t.Errorf("peers: alice %d, bob %d", len(alice.Peers()), len(bob.Peers()))
	}
}

func TestRejectOverBus(t *testing.T) {
	hub := bus.NewMemoryHub(nil)
	clk := clock.Real()

	aliceFactory := newFakeFactory(true)
	requests := make(chan *Request, 1)
	alice := newHubClient(t, hub, clk, Config{
		Peers:     aliceFactory,
		OnRequest: func(r *Request) { requests <- r },
	})
	bob := newHubClient(t, hub, clk, Config{Peers: newFakeFactory(true)})

	aliceIdentity, _ := alice.Identity()
	future, err := bob.Connect(aliceIdentity, nil, Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	request := testutil.RequireReceive(t, requests, waitTimeout, "request")
	request.Reject(Metadata{"reason": "busy"})

	_, err = waitFuture(t, future)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Metadata["reason"] != "busy" {
		t.Fatalf("err = %v, want rejection with reason busy", err)
	}
	testutil.RequireNoReceive(t, aliceFactory.peers, quietWindow, "responder created a peer")
}

func TestConnectionTimeout(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	hub := bus.NewMemoryHub(clk)

	requests := make(chan *Request, 1)
	alice := newHubClient(t, hub, clk, Config{
		Peers:     newFakeFactory(true),
		OnRequest: func(r *Request) { requests <- r },
	})
	factory := newFakeFactory(true)
	bob := newHubClient(t, hub, clk, Config{
		ConnectionTimeout: 50 * time.Millisecond,
		Peers:             factory,
	})

	aliceIdentity, _ := alice.Identity()
	future, err := bob.Connect(aliceIdentity, nil, Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Alice never answers.
	testutil.RequireReceive(t, requests, waitTimeout, "request")
	peer := factory.next(t)
	clk.WaitForTimers(1)

	clk.Advance(49 * time.Millisecond)
	testutil.RequireNoReceive(t, future.Done(), quietWindow, "timed out early")
	clk.Advance(time.Millisecond)

	_, err = waitFuture(t, future)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Code() != CodeConnectionTimeout || !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("err = %v, want connection timeout", err)
	}
	if !peer.destroyed.Load() {
		t.Error("timed out peer not destroyed")
	}
	inspect(t, bob, func() {
		if len(bob.registry.sessions) != 0 {
			t.Errorf("%d sessions left after timeout", len(bob.registry.sessions))
		}
		if len(bob.timers.active) != 0 {
			t.Errorf("%d timers left after timeout", len(bob.timers.active))
		}
		if len(bob.registry.tombstones) != 1 {
			t.Errorf("%d ended sessions recorded, want 1", len(bob.registry.tombstones))
		}
	})
}

func TestTimedOutSessionIgnoresLateAnswer(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	stub := newStubBus(nil)
	factory := newFakeFactory(false)
	client := newReadyClient(t, stub, Config{
		Clock:             clk,
		ConnectionTimeout: 50 * time.Millisecond,
		Peers:             factory,
	})

	target := Identity{PublicKey: "pub-b", SignatureKey: "sig-b"}
	future, err := client.Connect(target, nil, Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := factory.next(t)
	peer.emit(PeerEvent{Kind: EventSignal, Signal: Signal{Type: "offer", SDP: "sdp-offer"}})
	var offer initiatorPayload
	decodePost(t, stub.nextPost(t), &offer)

	clk.WaitForTimers(1)
	clk.Advance(50 * time.Millisecond)
	if _, err := waitFuture(t, future); !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("err = %v, want ErrConnectionTimeout", err)
	}

	scoped := scopeSessionID(target.SignatureKey, offer.SessionID)
	stub.inject(t, TopicSignal, target.SignatureKey, responderPayload{
		Signal:    &Signal{Type: "answer", SDP: "sdp-answer"},
		Metadata:  Metadata{"name": "bob"},
		SessionID: offer.SessionID,
	})
	inspect(t, client, func() {
		if client.registry.get(scoped) != nil {
			t.Error("late answer recreated the timed out session")
		}
		if !client.registry.ended(scoped) {
			t.Errorf("session %s not recorded as ended", scoped)
		}
		if len(client.timers.active) != 0 {
			t.Errorf("%d timers left after timeout", len(client.timers.active))
		}
	})
	testutil.RequireNoReceive(t, peer.signals, quietWindow, "late answer applied to timed out peer")
	if peers := client.Peers(); len(peers) != 0 {
		t.Errorf("Peers() after timeout = %v", peers)
	}
}

func TestRoomPasswordScopesDiscovery(t *testing.T) {
	hub := bus.NewMemoryHub(nil)
	clk := clock.Real()

	same := make(chan Discovery, 1)
	other := make(chan Discovery, 1)
	announcer := newHubClient(t, hub, clk, Config{RoomPassword: "alpha", Peers: newFakeFactory(true)})
	newHubClient(t, hub, clk, Config{
		RoomPassword: "alpha",
		Peers:        newFakeFactory(true),
		OnDiscover:   func(d Discovery) { same <- d },
	})
	newHubClient(t, hub, clk, Config{
		RoomPassword: "beta",
		Peers:        newFakeFactory(true),
		OnDiscover:   func(d Discovery) { other <- d },
	})

	announcer.Discover("hello")
	if got := testutil.RequireReceive(t, same, waitTimeout, "same room"); got.Data != "hello" {
		t.Errorf("discovery data = %v", got.Data)
	}
	testutil.RequireNoReceive(t, other, quietWindow, "other room saw discovery")
}

func TestLateJoinerReceivesRetainedDiscovery(t *testing.T) {
	hub := bus.NewMemoryHub(nil)
	clk := clock.Real()

	announcer := newHubClient(t, hub, clk, Config{Peers: newFakeFactory(true)})
	announcer.Discover("early")
	// The announcement is on the hub before the second client exists.
	deadline := time.Now().Add(waitTimeout)
	for hub.Retained() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("discover never reached the hub")
		}
		time.Sleep(time.Millisecond)
	}

	discoveries := make(chan Discovery, 1)
	newHubClient(t, hub, clk, Config{
		Peers:      newFakeFactory(true),
		OnDiscover: func(d Discovery) { discoveries <- d },
	})
	if got := testutil.RequireReceive(t, discoveries, waitTimeout, "retained discovery"); got.Data != "early" {
		t.Errorf("discovery data = %v", got.Data)
	}
}
