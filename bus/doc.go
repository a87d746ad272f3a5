// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus is the topic-based, store-and-forward message bus that
// carries rendezvous traffic.
//
// [MessageBus] is the capability the signaling layer consumes: key
// generation, topic subscription, and posting. Key material never leaves
// the bus; callers refer to keys by opaque [KeyID].
//
// [Node] implements MessageBus over a [Carrier], the raw frame transport.
// A post is turned into a [Frame]:
//
//   - the payload, the signer's public key and an ed25519 signature over
//     (topic, payload, expiry) are CBOR-encoded into a body;
//   - the body is sealed with age to the recipient's public key, or with
//     the room key when posting to a symmetric key;
//   - the frame carries topic, expiry and proof-of-work parameters in
//     the clear so relays can route, expire and de-duplicate it.
//
// Delivery is unordered and at-most-once per node: frames are
// de-duplicated by their BLAKE3 hash, dropped once expired, and retained
// until expiry so a subscription created later still sees them. A frame
// is delivered to every subscription whose topics match and whose key
// opens it.
//
// Public keys have the form "<ed25519 hex>.<age recipient>", so one key
// string both verifies signatures and addresses encrypted posts.
//
// [MemoryHub] is an in-process Carrier for tests and single-process
// use. The relay package provides the networked Carrier.
package bus
