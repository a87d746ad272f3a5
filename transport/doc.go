// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the peer connections that
// [signaling.Client] negotiates, using pion/webrtc.
//
// [PeerFactory] creates a [Peer] per handshake. The initiator creates a
// single ordered data channel and offers immediately; the responder
// answers each offer it receives. Signals use trickle ICE: descriptions
// are emitted as soon as they are set and candidates follow as they are
// gathered. Candidates that arrive before the remote description are
// held until it is applied.
//
// A Peer emits connect when its data channel opens, stream and track for
// remote media, and close exactly once, whether the connection failed,
// the other side closed it or [Peer.Destroy] was called. [Peer.Conn]
// returns the open data channel as a [DataChannelConn], a net.Conn with
// deadline support.
//
// Media is optional. [Peer.AddTrack] on the initiator renegotiates
// directly; on the responder it sends a "renegotiate" signal asking the
// initiator for a fresh offer.
//
// [ICEConfig] holds STUN and TURN servers; [ICEConfigFromServers]
// converts the configured list.
package transport
