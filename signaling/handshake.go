// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"

	"github.com/bureau-foundation/rendezvous/bus"
)

func (c *Client) connect(target Identity, raw string, metadata Metadata, options Options, future *Future) {
	if c.finished {
		future.fail(newFailure(CodeClientDestroyed))
		return
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	s := &session{
		id:            scopeSessionID(target.SignatureKey, raw),
		raw:           raw,
		role:          roleInitiator,
		created:       c.clock.Now(),
		remote:        target,
		localMetadata: metadata,
		future:        future,
	}
	c.registry.add(s)
	if err := c.attachPeer(s, options); err != nil {
		c.logger.Error("creating peer connection", "session", s.id, "error", err)
		c.registry.remove(s, c.clock.Now())
		future.fail(err)
		return
	}
	c.timers.start(s.id, func() { c.timeout(s) })
	c.logger.Debug("connecting", "session", s.id, "target", target.SignatureKey)
}

func (c *Client) onDiscover(in inbound) {
	var payload discoverPayload
	if err := json.Unmarshal(in.payload, &payload); err != nil || payload.PubKey == "" {
		return
	}
	if c.config.OnDiscover == nil {
		return
	}
	c.config.OnDiscover(Discovery{
		Identity: Identity{PublicKey: payload.PubKey, SignatureKey: in.signer},
		Data:     payload.DiscoveryData,
	})
}

func (c *Client) onOffer(in inbound) {
	var payload initiatorPayload
	if err := json.Unmarshal(in.payload, &payload); err != nil {
		return
	}
	if payload.PubKey == "" || payload.Signal == nil {
		return
	}
	if c.registry.ended(in.scoped) {
		return
	}

	s := c.registry.get(in.scoped)
	switch {
	case s == nil:
		s = &session{
			id:      in.scoped,
			created: c.clock.Now(),
			pending: []Signal{*payload.Signal},
		}
		c.registry.add(s)
	case s.orphan():
		s.pending = append([]Signal{*payload.Signal}, s.pending...)
	default:
		c.logger.Debug("dropping duplicate offer", "session", in.scoped)
		return
	}

	metadata := payload.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	s.role = roleResponder
	s.raw = in.raw
	s.remote = Identity{PublicKey: payload.PubKey, SignatureKey: in.signer}
	s.remoteMetadata = metadata
	s.metadataKnown = true
	s.request = &Request{
		Metadata:  metadata,
		Initiator: s.remote,
		client:    c,
		session:   s,
	}

	if c.config.OnRequest == nil {
		c.logger.Debug("no request handler, leaving request pending", "session", s.id)
		return
	}
	c.config.OnRequest(s.request)
}

func (c *Client) onSignal(in inbound) {
	var payload struct {
		Signal   *Signal  `json:"signal"`
		Metadata Metadata `json:"metadata"`
	}
	if err := json.Unmarshal(in.payload, &payload); err != nil || payload.Signal == nil {
		return
	}
	if c.registry.ended(in.scoped) {
		return
	}

	s := c.registry.get(in.scoped)
	if s == nil {
		s = &session{
			id:      in.scoped,
			raw:     in.raw,
			role:    roleUnknown,
			created: c.clock.Now(),
		}
		c.registry.add(s)
	}

	if s.conn == nil {
		s.pending = append(s.pending, *payload.Signal)
		return
	}
	if s.role == roleInitiator && !s.metadataKnown && payload.Metadata != nil {
		s.remoteMetadata = payload.Metadata
		s.metadataKnown = true
	}
	if err := s.conn.Signal(*payload.Signal); err != nil {
		c.logger.Warn("applying remote signal", "session", s.id, "error", err)
	}
	c.maybeResolve(s)
}

func (c *Client) onReject(in inbound) {
	var payload rejectPayload
	if err := json.Unmarshal(in.payload, &payload); err != nil {
		return
	}
	s := c.registry.get(in.scoped)
	if s == nil || s.role != roleInitiator || s.conn == nil {
		return
	}
	metadata := payload.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	c.logger.Debug("connection rejected", "session", s.id)
	c.teardown(s, &Failure{Metadata: metadata})
}

// attachPeer creates the session's connection. The first listener is
// options.OnEvent, so it sees every event.
func (c *Client) attachPeer(s *session, options Options) error {
	peer := &Peer{session: s.id, remote: s.remote}
	if options.OnEvent != nil {
		peer.Listen(options.OnEvent)
	}
	s.peer = peer
	s.order = newOrderingShim(peer, c.tasks.post)

	conn, err := c.config.Peers.NewPeer(PeerOptions{
		Initiator:    s.role == roleInitiator,
		ChannelLabel: options.ChannelLabel,
	}, func(event PeerEvent) {
		c.tasks.post(func() { c.onPeerEvent(s, event) })
	})
	if err != nil {
		s.peer = nil
		s.order = nil
		return err
	}
	peer.conn = conn
	s.conn = conn
	c.trackPeer(peer)
	return nil
}

func (c *Client) onPeerEvent(s *session, event PeerEvent) {
	if event.Kind == EventSignal {
		if !s.ended && !c.finished {
			c.sendSignal(s, event.Signal)
		}
		return
	}

	first := s.order.handle(event)
	switch event.Kind {
	case EventConnect:
		if first {
			c.logger.Info("peer connected", "session", s.id)
			c.maybeResolve(s)
		}
	case EventClose:
		c.teardown(s, newFailure(CodePrematureClose))
	case EventError:
		c.logger.Warn("peer connection error", "session", s.id, "error", event.Err)
	}
}

func (c *Client) sendSignal(s *session, signal Signal) {
	post := bus.Post{PublicKey: s.remote.PublicKey, Topic: TopicSignal}
	if s.role == roleInitiator {
		if signal.HasSDP() && !s.offerSent {
			post.Topic = TopicOffer
			s.offerSent = true
		}
		c.send(post, initiatorPayload{
			PubKey:    c.keys.publicKey,
			Metadata:  s.localMetadata,
			Signal:    &signal,
			SessionID: s.raw,
		})
		return
	}
	c.send(post, responderPayload{
		Signal:    &signal,
		Metadata:  s.localMetadata,
		SessionID: s.raw,
	})
}

// maybeResolve settles the session's future once the connection is up
// and the other party's metadata is known.
func (c *Client) maybeResolve(s *session) {
	if s.future == nil || s.future.settled() || s.order == nil {
		return
	}
	if !s.order.connected || !s.metadataKnown {
		return
	}
	c.timers.clear(s.id)
	s.future.resolve(&Connection{Peer: s.peer, Metadata: s.remoteMetadata})
}

func (c *Client) timeout(s *session) {
	c.logger.Info("connection timed out", "session", s.id)
	c.teardown(s, newFailure(CodeConnectionTimeout))
}

// teardown ends s. An unsettled future fails with cause. Safe to call
// more than once.
func (c *Client) teardown(s *session, cause error) {
	if s.ended {
		return
	}
	s.ended = true
	c.timers.clear(s.id)
	c.registry.remove(s, c.clock.Now())
	if s.future != nil && cause != nil {
		s.future.fail(cause)
	}
	if s.peer != nil {
		c.untrackPeer(s.peer)
	}
	if s.conn != nil {
		if err := s.conn.Destroy(); err != nil {
			c.logger.Debug("destroying peer connection", "session", s.id, "error", err)
		}
		c.logger.Info("session closed", "session", s.id, "cause", cause)
	}
}
