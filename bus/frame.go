// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/rendezvous/lib/codec"
)

// FrameKind says how a frame body is sealed.
type FrameKind uint8

const (
	// FrameRoom bodies are sealed under a symmetric room key.
	FrameRoom FrameKind = 1
	// FrameAddressed bodies are sealed to one public key.
	FrameAddressed FrameKind = 2
)

// Frame is the unit carriers move between nodes. Everything outside
// Sealed is visible to relays.
type Frame struct {
	Kind      FrameKind `cbor:"kind"`
	Topic     Topic     `cbor:"topic"`
	Expiry    int64     `cbor:"expiry"` // unix milliseconds
	TTL       uint32    `cbor:"ttl"`    // seconds
	PowTarget float64   `cbor:"pow_target,omitempty"`
	PowTime   uint32    `cbor:"pow_time,omitempty"`
	Sealed    []byte    `cbor:"sealed"`
}

// ExpiresAt returns the frame's expiry time.
func (f *Frame) ExpiresAt() time.Time {
	return time.UnixMilli(f.Expiry)
}

// Expired reports whether the frame is past its expiry at now.
func (f *Frame) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt())
}

// header is the cleartext part bound into room-sealed bodies.
func (f *Frame) header() ([]byte, error) {
	return codec.Marshal(struct {
		Kind   FrameKind `cbor:"kind"`
		Topic  Topic     `cbor:"topic"`
		Expiry int64     `cbor:"expiry"`
	}{f.Kind, f.Topic, f.Expiry})
}

// EncodeFrame serializes a frame.
func EncodeFrame(frame *Frame) ([]byte, error) {
	return codec.Marshal(frame)
}

// DecodeFrame parses a serialized frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("bus: decoding frame: %w", err)
	}
	if frame.Kind != FrameRoom && frame.Kind != FrameAddressed {
		return nil, fmt.Errorf("bus: unknown frame kind %d", frame.Kind)
	}
	return &frame, nil
}

// FrameHash is the BLAKE3 digest of a serialized frame.
type FrameHash [32]byte

// HashFrame hashes serialized frame bytes.
func HashFrame(data []byte) FrameHash {
	return FrameHash(blake3.Sum256(data))
}

func (h FrameHash) String() string {
	return hex.EncodeToString(h[:])
}

// body is the sealed part of a frame.
type body struct {
	Payload   []byte `cbor:"payload"`
	Signer    string `cbor:"signer,omitempty"`
	Signature []byte `cbor:"signature,omitempty"`
}

// signedContent is what a signature covers.
func signedContent(topic Topic, payload []byte, expiry int64) ([]byte, error) {
	return codec.Marshal(struct {
		Topic   Topic  `cbor:"topic"`
		Payload []byte `cbor:"payload"`
		Expiry  int64  `cbor:"expiry"`
	}{topic, payload, expiry})
}
