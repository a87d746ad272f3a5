// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration used on the rendezvous
// wire.
//
// Bus frames are signed over their CBOR encoding, so two nodes must
// produce identical bytes for the same logical value. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
// Application payloads (discover, offer, signal, reject bodies) are JSON
// inside the envelope codec in lib/wire. CBOR is only the outer framing
// between bus nodes and relays.
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
package codec
