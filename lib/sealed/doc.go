// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts bus frame bodies.
//
// Two modes match the two ways a bus message is addressed:
//
//   - Addressed to a public key: age with X25519 recipients. [Seal]
//     encrypts to one recipient; [Open] decrypts with a private key
//     held in a [secret.Buffer] and reports [ErrNotRecipient] when the
//     frame was meant for someone else.
//   - Broadcast to a room: XChaCha20-Poly1305 under a key derived from
//     the room password with argon2id ([DeriveRoomKey], [SealRoom],
//     [OpenRoom]). Every member of the room derives the same key.
//
// Authentication of the sender is not done here; the bus signs the
// plaintext body separately.
package sealed
