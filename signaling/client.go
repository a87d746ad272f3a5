// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/clock"
)

const (
	// DefaultConnectionTimeout bounds a handshake unless configured.
	DefaultConnectionTimeout = 1000 * time.Second

	// DefaultStaleSessionTTL is how long ended session ids and orphan
	// signal queues are remembered.
	DefaultStaleSessionTTL = time.Minute
)

// Config configures a Client.
type Config struct {
	// ConnectionTimeout bounds each handshake, from Connect or Accept
	// until connect. Zero means DefaultConnectionTimeout; negative
	// disables the timeout.
	ConnectionTimeout time.Duration

	// RoomPassword scopes discovery. Clients with different passwords
	// do not see each other's discover messages.
	RoomPassword string

	// StaleSessionTTL is how long ended session ids and orphan signal
	// queues are kept. Zero means DefaultStaleSessionTTL.
	StaleSessionTTL time.Duration

	// Peers creates the connections being negotiated. Required.
	Peers PeerFactory

	// OnDiscover receives discover messages from other participants.
	OnDiscover func(Discovery)

	// OnRequest receives incoming connection requests. A request that
	// is neither accepted nor rejected stays pending.
	OnRequest func(*Request)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Options configures one handshake.
type Options struct {
	// OnEvent observes the connection's events from the start: connect
	// first, then stream, track, close and error.
	OnEvent func(PeerEvent)

	// ChannelLabel is passed to the PeerFactory.
	ChannelLabel string
}

// Client runs the rendezvous protocol for one identity.
type Client struct {
	bus    bus.MessageBus
	config Config
	clock  clock.Clock
	logger *slog.Logger

	tasks  *taskQueue
	outbox *taskQueue

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	failed    chan struct{}
	destroyed chan struct{}
	isReady   atomic.Bool
	isDone    atomic.Bool
	err       error

	// Task goroutine state.
	keys             localKeys
	identity         atomic.Pointer[Identity]
	subscriptions    []bus.Subscription
	pendingDiscovery []any
	registry         *registry
	timers           *timers
	finished         bool

	peersMu sync.Mutex
	peers   map[string]*Peer
}

type localKeys struct {
	room       bus.KeyID
	signing    bus.KeyID
	encryption bus.KeyID
	publicKey  string
	signature  string
}

// New creates a client and starts generating its keys and subscribing
// in the background. Ready is closed once that completes.
func New(messageBus bus.MessageBus, config Config) (*Client, error) {
	if messageBus == nil {
		return nil, errors.New("signaling: nil message bus")
	}
	if config.Peers == nil {
		return nil, errors.New("signaling: Config.Peers is required")
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = DefaultConnectionTimeout
	}
	if config.StaleSessionTTL <= 0 {
		config.StaleSessionTTL = DefaultStaleSessionTTL
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		bus:       messageBus,
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger,
		tasks:     newTaskQueue(),
		outbox:    newTaskQueue(),
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
		destroyed: make(chan struct{}),
		registry:  newRegistry(config.StaleSessionTTL),
		peers:     make(map[string]*Peer),
	}
	c.timers = newTimers(c.clock, config.ConnectionTimeout, c.tasks.post)

	go c.bootstrap()
	return c, nil
}

// bootstrap generates keys and subscribes to the four topics.
func (c *Client) bootstrap() {
	keys, err := c.generateKeys()
	if err != nil {
		c.tasks.post(func() { c.bootstrapFailed(err) })
		return
	}
	// Installed before subscribing so every message task sees the keys.
	c.tasks.post(func() {
		if !c.finished {
			c.keys = keys
		}
	})

	type route struct {
		filter bus.Filter
		handle func(inbound)
	}
	routes := []route{
		{bus.Filter{SymKeyID: keys.room, Topics: []bus.Topic{TopicDiscover}}, c.onDiscover},
		{bus.Filter{PrivateKeyID: keys.encryption, Topics: []bus.Topic{TopicOffer}}, c.onOffer},
		{bus.Filter{PrivateKeyID: keys.encryption, Topics: []bus.Topic{TopicSignal}}, c.onSignal},
		{bus.Filter{PrivateKeyID: keys.encryption, Topics: []bus.Topic{TopicReject}}, c.onReject},
	}
	var subscriptions []bus.Subscription
	for _, r := range routes {
		subscription, err := c.bus.Subscribe(c.ctx, r.filter, c.filter(keys.signature, r.filter.Topics[0], r.handle))
		if err != nil {
			for _, existing := range subscriptions {
				existing.Unsubscribe()
			}
			err = fmt.Errorf("subscribing to %s: %w", r.filter.Topics[0], err)
			c.tasks.post(func() { c.bootstrapFailed(err) })
			return
		}
		subscriptions = append(subscriptions, subscription)
	}

	if !c.tasks.post(func() { c.becomeReady(subscriptions) }) {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
	}
}

func (c *Client) generateKeys() (localKeys, error) {
	var keys localKeys
	var err error
	if keys.room, err = c.bus.GenerateSymKeyFromPassword(c.ctx, c.config.RoomPassword); err != nil {
		return keys, fmt.Errorf("generating room key: %w", err)
	}
	if keys.signing, err = c.bus.NewKeyPair(c.ctx); err != nil {
		return keys, fmt.Errorf("generating signing key: %w", err)
	}
	if keys.encryption, err = c.bus.NewKeyPair(c.ctx); err != nil {
		return keys, fmt.Errorf("generating encryption key: %w", err)
	}
	if keys.publicKey, err = c.bus.PublicKey(c.ctx, keys.encryption); err != nil {
		return keys, fmt.Errorf("reading public key: %w", err)
	}
	if keys.signature, err = c.bus.PublicKey(c.ctx, keys.signing); err != nil {
		return keys, fmt.Errorf("reading signing key: %w", err)
	}
	return keys, nil
}

func (c *Client) becomeReady(subscriptions []bus.Subscription) {
	if c.finished {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
		return
	}
	c.subscriptions = subscriptions
	c.identity.Store(&Identity{PublicKey: c.keys.publicKey, SignatureKey: c.keys.signature})
	c.isReady.Store(true)
	close(c.ready)
	c.logger.Info("signaling client ready", "sig", c.keys.signature)

	pending := c.pendingDiscovery
	c.pendingDiscovery = nil
	for _, data := range pending {
		c.sendDiscover(data)
	}
}

func (c *Client) bootstrapFailed(err error) {
	if c.finished || c.isDone.Load() {
		return
	}
	c.err = err
	close(c.failed)
	c.logger.Error("signaling client bootstrap failed", "error", err)
}

// Ready is closed once the client can connect.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Done is closed once Destroy has torn everything down.
func (c *Client) Done() <-chan struct{} { return c.destroyed }

// WaitReady blocks until the client is ready, bootstrap fails, the
// client is destroyed, or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		return c.err
	case <-c.destroyed:
		return ErrClientDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Identity returns the client's identity once ready.
func (c *Client) Identity() (Identity, bool) {
	identity := c.identity.Load()
	if identity == nil {
		return Identity{}, false
	}
	return *identity, true
}

// Discover broadcasts the client's identity and data to the room. Called
// before the client is ready, the broadcast happens once it is.
func (c *Client) Discover(data any) {
	c.tasks.post(func() {
		if c.finished {
			return
		}
		if c.identity.Load() == nil {
			c.pendingDiscovery = append(c.pendingDiscovery, data)
			return
		}
		c.sendDiscover(data)
	})
}

func (c *Client) sendDiscover(data any) {
	if data == nil {
		data = map[string]any{}
	}
	c.send(bus.Post{SymKeyID: c.keys.room, Topic: TopicDiscover}, discoverPayload{
		PubKey:        c.keys.publicKey,
		DiscoveryData: data,
	})
}

// Connect starts a handshake with target as initiator.
func (c *Client) Connect(target Identity, metadata Metadata, options Options) (*Future, error) {
	if c.isDone.Load() {
		return nil, ErrClientDestroyed
	}
	if !c.isReady.Load() {
		return nil, ErrNotReady
	}
	future := newFuture()
	raw := uuid.NewString()
	if !c.tasks.post(func() { c.connect(target, raw, metadata, options, future) }) {
		return nil, ErrClientDestroyed
	}
	return future, nil
}

// Peers returns the handles of every session with an attached
// connection.
func (c *Client) Peers() []*Peer {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, peer := range c.peers {
		peers = append(peers, peer)
	}
	return peers
}

func (c *Client) trackPeer(peer *Peer) {
	c.peersMu.Lock()
	c.peers[peer.session] = peer
	c.peersMu.Unlock()
}

func (c *Client) untrackPeer(peer *Peer) {
	c.peersMu.Lock()
	if c.peers[peer.session] == peer {
		delete(c.peers, peer.session)
	}
	c.peersMu.Unlock()
}

// Destroy tears down every session, failing unsettled futures with
// ErrClientDestroyed, and releases the client's subscriptions and
// identity. It does not block; Done is closed when teardown completes.
func (c *Client) Destroy() {
	if c.isDone.Swap(true) {
		return
	}
	c.cancel()
	posted := c.tasks.post(c.destroy)
	if !posted {
		close(c.destroyed)
	}
}

func (c *Client) destroy() {
	c.finished = true
	for _, s := range c.registry.all() {
		c.teardown(s, newFailure(CodeClientDestroyed))
	}
	c.timers.clearAll()
	for _, subscription := range c.subscriptions {
		subscription.Unsubscribe()
	}
	c.subscriptions = nil
	c.identity.Store(nil)
	c.keys = localKeys{}
	c.pendingDiscovery = nil

	c.outbox.close()
	// Tasks queued behind this one see finished and fail their futures.
	for _, task := range c.tasks.close() {
		task()
	}
	close(c.destroyed)
	c.logger.Info("signaling client destroyed")
}

// send encodes payload and queues the post. Posts leave in the order
// they were queued.
func (c *Client) send(post bus.Post, payload any) {
	encoded, err := encodePayload(payload)
	if err != nil {
		c.logger.Error("encoding payload", "topic", post.Topic, "error", err)
		return
	}
	post.Payload = encoded
	post.Sig = c.keys.signing
	post.TTL = PostTTL
	post.PowTarget = PostPowTarget
	post.PowTime = PostPowTime

	c.outbox.post(func() {
		if err := c.bus.Post(c.ctx, post); err != nil && c.ctx.Err() == nil {
			c.logger.Error("posting message", "topic", post.Topic, "error", err)
		}
	})
}
