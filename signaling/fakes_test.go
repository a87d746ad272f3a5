// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/clock"
	"github.com/bureau-foundation/rendezvous/lib/testutil"
	"github.com/bureau-foundation/rendezvous/lib/wire"
)

const waitTimeout = 5 * time.Second

// fakeFactory creates fakePeers. In auto mode an initiator emits an
// offer and a candidate as soon as it is created, a peer that receives
// an offer answers it and connects, and a peer that receives an answer
// connects.
type fakeFactory struct {
	auto  bool
	peers chan *fakePeer
}

func newFakeFactory(auto bool) *fakeFactory {
	return &fakeFactory{auto: auto, peers: make(chan *fakePeer, 16)}
}

func (f *fakeFactory) NewPeer(options PeerOptions, emit func(PeerEvent)) (PeerConnection, error) {
	peer := &fakePeer{
		options: options,
		emit:    emit,
		auto:    f.auto,
		signals: make(chan Signal, 64),
	}
	if f.auto && options.Initiator {
		emit(PeerEvent{Kind: EventSignal, Signal: Signal{Type: "offer", SDP: "v=0 offer"}})
		emit(PeerEvent{Kind: EventSignal, Signal: Signal{Candidate: &CandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 4000 typ host"}}})
	}
	f.peers <- peer
	return peer, nil
}

func (f *fakeFactory) next(t *testing.T) *fakePeer {
	t.Helper()
	return testutil.RequireReceive(t, f.peers, waitTimeout, "waiting for peer creation")
}

type fakePeer struct {
	options PeerOptions
	emit    func(PeerEvent)
	auto    bool
	signals chan Signal

	once      sync.Once
	destroyed atomic.Bool
}

func (p *fakePeer) Signal(signal Signal) error {
	p.signals <- signal
	if !p.auto {
		return nil
	}
	switch signal.Type {
	case "offer":
		p.emit(PeerEvent{Kind: EventSignal, Signal: Signal{Type: "answer", SDP: "v=0 answer"}})
		p.emit(PeerEvent{Kind: EventConnect})
	case "answer":
		p.emit(PeerEvent{Kind: EventConnect})
	}
	return nil
}

func (p *fakePeer) Destroy() error {
	p.once.Do(func() {
		p.destroyed.Store(true)
		p.emit(PeerEvent{Kind: EventClose})
	})
	return nil
}

func (p *fakePeer) nextSignal(t *testing.T) Signal {
	t.Helper()
	return testutil.RequireReceive(t, p.signals, waitTimeout, "waiting for signal")
}

// stubBus is a MessageBus that records posts and lets tests inject
// messages straight into the client's handlers.
type stubBus struct {
	gate chan struct{}

	mu       sync.Mutex
	pairs    int
	handlers map[bus.Topic]bus.Handler
	filters  map[bus.Topic]bus.Filter
	active   int

	posts chan bus.Post
}

// newStubBus returns a bus whose key generation waits for gate to be
// closed. A nil gate never waits.
func newStubBus(gate chan struct{}) *stubBus {
	return &stubBus{
		gate:     gate,
		handlers: make(map[bus.Topic]bus.Handler),
		filters:  make(map[bus.Topic]bus.Filter),
		posts:    make(chan bus.Post, 64),
	}
}

func (b *stubBus) GenerateSymKeyFromPassword(ctx context.Context, password string) (bus.KeyID, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return bus.KeyID("room:" + password), nil
}

func (b *stubBus) NewKeyPair(ctx context.Context) (bus.KeyID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairs++
	return bus.KeyID(fmt.Sprintf("pair-%d", b.pairs)), nil
}

func (b *stubBus) PublicKey(ctx context.Context, id bus.KeyID) (string, error) {
	return "pub-" + string(id), nil
}

func (b *stubBus) Subscribe(ctx context.Context, filter bus.Filter, handler bus.Handler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic := filter.Topics[0]
	b.handlers[topic] = handler
	b.filters[topic] = filter
	b.active++
	return &stubSubscription{bus: b}, nil
}

func (b *stubBus) Post(ctx context.Context, post bus.Post) error {
	b.posts <- post
	return nil
}

func (b *stubBus) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// inject delivers payload on topic as if signed by signer.
func (b *stubBus) inject(t *testing.T, topic bus.Topic, signer string, payload any) {
	t.Helper()
	encoded, err := wire.Encode(payload)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription for %s", topic)
	}
	handler(&bus.Message{Sig: signer, Topic: topic, Payload: []byte(encoded)}, nil)
}

func (b *stubBus) nextPost(t *testing.T) bus.Post {
	t.Helper()
	return testutil.RequireReceive(t, b.posts, waitTimeout, "waiting for post")
}

type stubSubscription struct {
	bus  *stubBus
	once sync.Once
}

func (s *stubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.active--
		s.bus.mu.Unlock()
	})
}

// Identities handed out by stubBus: the first keypair signs, the second
// encrypts.
const (
	stubSignature = "pub-pair-1"
	stubPublicKey = "pub-pair-2"
)

func newReadyClient(t *testing.T, messageBus bus.MessageBus, config Config) *Client {
	t.Helper()
	client, err := New(messageBus, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		client.Destroy()
		testutil.RequireClosed(t, client.Done(), waitTimeout, "client teardown")
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := client.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return client
}

func newHubClient(t *testing.T, hub *bus.MemoryHub, clk clock.Clock, config Config) *Client {
	t.Helper()
	node := bus.NewNode(hub.Endpoint(), bus.NodeConfig{Clock: clk})
	t.Cleanup(func() { node.Close() })
	config.Clock = clk
	return newReadyClient(t, node, config)
}

// inspect runs fn on the client's task queue and waits for it, so fn
// may read session state.
func inspect(t *testing.T, client *Client, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !client.tasks.post(func() {
		defer close(done)
		fn()
	}) {
		t.Fatal("client task queue closed")
	}
	testutil.RequireClosed(t, done, waitTimeout, "waiting for client task")
}

// failingFactory refuses to create peers.
type failingFactory struct{}

func (failingFactory) NewPeer(PeerOptions, func(PeerEvent)) (PeerConnection, error) {
	return nil, errors.New("no ICE servers reachable")
}

func decodePost(t *testing.T, post bus.Post, v any) {
	t.Helper()
	if err := wire.Decode(string(post.Payload), v); err != nil {
		t.Fatalf("decoding %s payload: %v", post.Topic, err)
	}
}

func waitFuture(t *testing.T, future *Future) (*Connection, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	connection, err := future.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatal("future did not settle")
	}
	return connection, err
}
