// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/rendezvous/lib/secret"
)

// roomKeySalt is fixed: every member must derive the same key from the
// same password with no prior exchange.
var roomKeySalt = []byte("rendezvous room key v1")

const (
	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// DeriveRoomKey derives the 32-byte room key for password.
func DeriveRoomKey(password []byte) (*secret.Buffer, error) {
	key := argon2.IDKey(password, roomKeySalt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("protecting room key: %w", err)
	}
	return buffer, nil
}

// SealRoom encrypts plaintext under key, binding additional. The
// result is nonce || ciphertext.
func SealRoom(key *secret.Buffer, plaintext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating room cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

// OpenRoom reverses SealRoom. A frame sealed under another room's key
// reports ErrNotRecipient.
func OpenRoom(key *secret.Buffer, sealed, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating room cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrNotRecipient
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrNotRecipient
	}
	return plaintext, nil
}
