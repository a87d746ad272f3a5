// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"sync"

	"github.com/bureau-foundation/rendezvous/bus"
)

type requestState int

const (
	requestPending requestState = iota
	requestAccepted
	requestRejected
)

// Request is an incoming connection offer. Exactly one of Accept and
// Reject takes effect; later calls are ignored.
type Request struct {
	// Metadata is the initiator's request metadata.
	Metadata Metadata

	// Initiator is the party asking to connect.
	Initiator Identity

	client  *Client
	session *session

	mu       sync.Mutex
	state    requestState
	future   *Future
	rejected Metadata
}

// SessionID returns the scoped session id of the handshake.
func (r *Request) SessionID() string { return r.session.id }

// Accept creates the responder's connection, replays the signals that
// arrived so far, and starts the connection timer. metadata is sent to
// the initiator with every signal. Accepting an accepted request
// returns the same Future; accepting a rejected one returns a Future
// that has failed with ErrRejected.
func (r *Request) Accept(metadata Metadata, options Options) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case requestAccepted:
		return r.future
	case requestRejected:
		return failedFuture(&Failure{Metadata: r.rejected})
	}

	if metadata == nil {
		metadata = Metadata{}
	}
	r.state = requestAccepted
	r.future = newFuture()
	future := r.future
	if !r.client.tasks.post(func() { r.client.accept(r.session, metadata, options, future) }) {
		future.fail(newFailure(CodeClientDestroyed))
	}
	return future
}

// Reject refuses the request and tells the initiator, whose Future
// fails with a *Failure carrying metadata.
func (r *Request) Reject(metadata Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != requestPending {
		return
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	r.state = requestRejected
	r.rejected = metadata
	r.client.tasks.post(func() { r.client.reject(r.session, metadata) })
}

func (c *Client) accept(s *session, metadata Metadata, options Options, future *Future) {
	if c.finished || s.ended || !c.registry.live(s) {
		future.fail(newFailure(CodeClientDestroyed))
		return
	}
	s.localMetadata = metadata
	s.future = future
	if err := c.attachPeer(s, options); err != nil {
		c.logger.Error("creating peer connection", "session", s.id, "error", err)
		s.future = nil
		c.teardown(s, nil)
		c.sendReject(s, newFailure(CodeConnectionFailed).Metadata)
		future.fail(err)
		return
	}

	pending := s.pending
	s.pending = nil
	for _, signal := range pending {
		if err := s.conn.Signal(signal); err != nil {
			c.logger.Warn("applying queued signal", "session", s.id, "error", err)
		}
	}
	c.timers.start(s.id, func() { c.timeout(s) })
	c.logger.Debug("accepted connection", "session", s.id, "queued_signals", len(pending))
}

func (c *Client) reject(s *session, metadata Metadata) {
	if c.finished || s.ended {
		return
	}
	c.teardown(s, nil)
	c.sendReject(s, metadata)
	c.logger.Debug("rejected connection", "session", s.id)
}

// sendReject tells the initiator of s that its offer was refused.
func (c *Client) sendReject(s *session, metadata Metadata) {
	c.send(bus.Post{PublicKey: s.remote.PublicKey, Topic: TopicReject}, rejectPayload{
		Metadata:  metadata,
		SessionID: s.raw,
	})
}
