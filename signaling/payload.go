// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"time"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/wire"
)

// Topics, one per message kind.
var (
	TopicDiscover = bus.MustParseTopic("0x87139212")
	TopicOffer    = bus.MustParseTopic("0x09124928")
	TopicSignal   = bus.MustParseTopic("0x92489214")
	TopicReject   = bus.MustParseTopic("0x89214711")
)

// Parameters applied to every post.
const (
	PostTTL       = 5 * time.Second
	PostPowTarget = 2.01
	PostPowTime   = 20 * time.Second
)

// Identity names a participant for the lifetime of one Client: the
// public key that addresses posts to it and the key it signs with.
type Identity struct {
	PublicKey    string `json:"pubKey"`
	SignatureKey string `json:"sig"`
}

// Discovery is a discover message from another participant.
type Discovery struct {
	Identity Identity
	Data     any
}

// sessionHeader is the part of a payload the filter reads.
type sessionHeader struct {
	SessionID string `json:"sessionId"`
}

type discoverPayload struct {
	PubKey        string `json:"pubKey"`
	DiscoveryData any    `json:"discoveryData"`
}

// initiatorPayload is sent by the initiator on both the offer and the
// signal topic.
type initiatorPayload struct {
	PubKey    string   `json:"pubKey"`
	Metadata  Metadata `json:"metadata"`
	Signal    *Signal  `json:"signal"`
	SessionID string   `json:"sessionId"`
}

// responderPayload is sent by the responder on the signal topic. The
// metadata is the responder's acceptance metadata.
type responderPayload struct {
	Signal    *Signal  `json:"signal"`
	Metadata  Metadata `json:"metadata"`
	SessionID string   `json:"sessionId"`
}

type rejectPayload struct {
	Metadata  Metadata `json:"metadata"`
	SessionID string   `json:"sessionId"`
}

// scopeSessionID binds a raw session id to the key that signed it. The
// separator cannot occur in a bus public key.
func scopeSessionID(signer, raw string) string {
	return signer + "/" + raw
}

func encodePayload(payload any) ([]byte, error) {
	encoded, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}
