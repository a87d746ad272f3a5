// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownKey is returned for a KeyID the bus does not hold.
	ErrUnknownKey = errors.New("bus: unknown key")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// MessageBus is the bus capability consumed by the signaling layer.
type MessageBus interface {
	// GenerateSymKeyFromPassword derives a symmetric key shared by
	// everyone using the same password.
	GenerateSymKeyFromPassword(ctx context.Context, password string) (KeyID, error)

	// NewKeyPair creates a signing and encryption keypair.
	NewKeyPair(ctx context.Context) (KeyID, error)

	// PublicKey returns the public half of a keypair.
	PublicKey(ctx context.Context, id KeyID) (string, error)

	// Subscribe registers handler for messages matching filter. The
	// handler may run on any goroutine and must not block.
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)

	// Post publishes a message.
	Post(ctx context.Context, post Post) error
}

// KeyID names key material held by a bus.
type KeyID string

// Topic is a four-byte routing tag.
type Topic [4]byte

// String returns the 0x-prefixed hex form.
func (t Topic) String() string {
	return "0x" + hex.EncodeToString(t[:])
}

// ParseTopic parses the 0x-prefixed hex form.
func ParseTopic(s string) (Topic, error) {
	var topic Topic
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(topic) {
		return topic, fmt.Errorf("bus: invalid topic %q", s)
	}
	copy(topic[:], raw)
	return topic, nil
}

// MustParseTopic is ParseTopic for constants.
func MustParseTopic(s string) Topic {
	topic, err := ParseTopic(s)
	if err != nil {
		panic(err)
	}
	return topic
}

// Filter selects messages for a subscription. Exactly one of SymKeyID
// and PrivateKeyID is set.
type Filter struct {
	SymKeyID     KeyID
	PrivateKeyID KeyID
	Topics       []Topic
}

func (f Filter) matches(topic Topic) bool {
	for _, candidate := range f.Topics {
		if candidate == topic {
			return true
		}
	}
	return false
}

// Post is an outbound message. Exactly one of SymKeyID and PublicKey is
// set. Sig names the keypair to sign with; an empty Sig posts unsigned.
type Post struct {
	SymKeyID  KeyID
	PublicKey string
	Sig       KeyID
	Topic     Topic
	Payload   []byte
	TTL       time.Duration
	PowTarget float64
	PowTime   time.Duration
}

// Message is a delivered message.
type Message struct {
	// Sig is the signer's public key, empty for unsigned messages.
	Sig string

	// RecipientPublicKey is the local public key that opened an
	// addressed message, empty for room messages.
	RecipientPublicKey string

	Topic     Topic
	Payload   []byte
	Timestamp time.Time
	TTL       time.Duration

	// Hash identifies the frame the message arrived in.
	Hash string
}

// Handler receives messages. A non-nil error reports a frame that
// matched the subscription but could not be opened or verified; the
// message is nil in that case.
type Handler func(*Message, error)

// Subscription is an active Subscribe registration.
type Subscription interface {
	Unsubscribe()
}

// DefaultTTL applies to posts with a non-positive TTL.
const DefaultTTL = 5 * time.Second
