// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire is the envelope codec for application payloads carried
// on the bus.
//
// A payload is JSON, hex-encoded with a 0x prefix and right-padded with
// zero bytes to MinPayloadBytes. Decoding discards every zero byte
// before parsing, which removes the padding and is safe because encoded
// JSON never contains a raw NUL.
package wire

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MinPayloadBytes is the minimum decoded length of an encoded payload.
const MinPayloadBytes = 64

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("wire: malformed payload")

// Encode returns the wire form of v.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if len(data) < MinPayloadBytes {
		data = append(data, make([]byte, MinPayloadBytes-len(data))...)
	}
	return "0x" + hex.EncodeToString(data), nil
}

// Decode parses the wire form in s into v. Any failure wraps
// ErrMalformed.
func Decode(s string, v any) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	data, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	data = bytes.ReplaceAll(data, []byte{0}, nil)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
