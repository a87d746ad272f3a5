// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "time"

type role int

const (
	roleInitiator role = iota + 1
	roleResponder
	// roleUnknown is a session created by signals that arrived before
	// any offer.
	roleUnknown
)

// session is one handshake, keyed by scoped session id. It is only
// touched from the task goroutine.
type session struct {
	id      string
	raw     string
	role    role
	created time.Time

	remote         Identity
	localMetadata  Metadata
	remoteMetadata Metadata
	metadataKnown  bool

	// pending holds signals received while no connection is attached.
	pending []Signal

	request *Request
	conn    PeerConnection
	peer    *Peer
	future  *Future
	order   *orderingShim

	// offerSent is set once the initiator has posted an SDP signal.
	offerSent bool

	ended bool
}

// orphan reports whether the session is only a queue of signals with
// no offer behind it.
func (s *session) orphan() bool {
	return s.role == roleUnknown
}

// registry maps scoped session ids to sessions and remembers ended
// sessions so late traffic for them is ignored.
type registry struct {
	sessions   map[string]*session
	tombstones map[string]time.Time
	staleAfter time.Duration
}

func newRegistry(staleAfter time.Duration) *registry {
	return &registry{
		sessions:   make(map[string]*session),
		tombstones: make(map[string]time.Time),
		staleAfter: staleAfter,
	}
}

func (r *registry) get(id string) *session {
	return r.sessions[id]
}

// live reports whether s is still the registered session for its id.
func (r *registry) live(s *session) bool {
	return r.sessions[s.id] == s
}

func (r *registry) add(s *session) {
	delete(r.tombstones, s.id)
	r.sessions[s.id] = s
}

// remove deletes the session and records a tombstone. It reports
// whether s was registered.
func (r *registry) remove(s *session, now time.Time) bool {
	if !r.live(s) {
		return false
	}
	delete(r.sessions, s.id)
	r.tombstones[s.id] = now.Add(r.staleAfter)
	return true
}

func (r *registry) ended(id string) bool {
	_, ok := r.tombstones[id]
	return ok
}

// prune forgets expired tombstones and drops orphan queues older than
// the stale interval.
func (r *registry) prune(now time.Time) {
	for id, expires := range r.tombstones {
		if !now.Before(expires) {
			delete(r.tombstones, id)
		}
	}
	for id, s := range r.sessions {
		if s.orphan() && !now.Before(s.created.Add(r.staleAfter)) {
			delete(r.sessions, id)
		}
	}
}

func (r *registry) all() []*session {
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
