// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling negotiates peer-to-peer connections over an
// untrusted bus.
//
// Two parties that share nothing but a room password find each other
// and exchange connection offers through a [bus.MessageBus]. The bus is
// store-and-forward, unordered and may duplicate; anyone can post to it.
// A [Client] turns that traffic into handshakes:
//
//	discover  room-wide broadcast of an identity plus application data
//	offer     the initiator's first SDP signal, which opens a session
//	signal    every later signal, in both directions
//	reject    the responder's refusal
//
// Every inbound message passes the same filter: delivery errors,
// unsigned messages and the client's own messages are dropped, the
// payload is decoded, and the sender's raw session id is scoped to the
// sender's signing key. Two parties can therefore pick the same raw id
// without colliding, and nobody can inject signals into a session they
// did not sign.
//
// # Concurrency
//
// All session state is owned by one goroutine that runs tasks in FIFO
// order. Bus handlers, timer callbacks and peer events only post tasks.
// Application callbacks ([Config].OnDiscover, [Config].OnRequest,
// [Options].OnEvent, [Peer.Listen]) run on that goroutine and must not
// block; [Request.Accept], [Request.Reject], [Client.Connect] and
// [Client.Discover] never block and may be called from inside them.
//
// # Event order
//
// A peer's listeners see connect before any stream or track event, even
// when the underlying connection reports media first. Stream and track
// events are buffered until connect, connect is delivered on one queue
// turn, and the buffered events are replayed on the next.
//
// # Session lifetime
//
// A session ends on connection timeout, rejection, close, or client
// destruction. Its scoped id is then remembered for
// [Config].StaleSessionTTL and later traffic for it is ignored. Signals
// for sessions whose offer never arrives are discarded after the same
// interval.
package signaling
