// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/rendezvous/lib/sealed"
	"github.com/bureau-foundation/rendezvous/lib/secret"
)

// keyPair is the private state behind a keypair KeyID.
type keyPair struct {
	signing    *secret.Buffer // ed25519 seed
	encryption *sealed.Keypair
	public     string
}

func generateKeyPair() (*keyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	seed, err := secret.NewFromBytes(privateKey.Seed())
	secret.Zero(privateKey)
	if err != nil {
		return nil, fmt.Errorf("protecting signing key: %w", err)
	}

	encryption, err := sealed.GenerateKeypair()
	if err != nil {
		seed.Close()
		return nil, err
	}

	return &keyPair{
		signing:    seed,
		encryption: encryption,
		public:     FormatPublicKey(publicKey, encryption.PublicKey),
	}, nil
}

func (k *keyPair) sign(message []byte) []byte {
	privateKey := ed25519.NewKeyFromSeed(k.signing.Bytes())
	defer secret.Zero(privateKey)
	return ed25519.Sign(privateKey, message)
}

func (k *keyPair) close() {
	k.signing.Close()
	k.encryption.Close()
}

// FormatPublicKey joins a signing key and an age recipient into the
// bus public key form.
func FormatPublicKey(signing ed25519.PublicKey, recipient string) string {
	return hex.EncodeToString(signing) + "." + recipient
}

// ParsePublicKey splits a bus public key into its signing key and age
// recipient.
func ParsePublicKey(publicKey string) (ed25519.PublicKey, string, error) {
	signingHex, recipient, ok := strings.Cut(publicKey, ".")
	if !ok {
		return nil, "", fmt.Errorf("bus: public key %q has no recipient part", publicKey)
	}
	signing, err := hex.DecodeString(signingHex)
	if err != nil || len(signing) != ed25519.PublicKeySize {
		return nil, "", fmt.Errorf("bus: public key %q has an invalid signing part", publicKey)
	}
	if err := sealed.ParsePublicKey(recipient); err != nil {
		return nil, "", fmt.Errorf("bus: %w", err)
	}
	return ed25519.PublicKey(signing), recipient, nil
}

// keyID derives a stable identifier for key material. It is a BLAKE3
// digest with a per-kind prefix, so IDs for different kinds never
// collide.
func keyID(kind string, material []byte) KeyID {
	hasher := blake3.New()
	hasher.Write([]byte(kind))
	hasher.Write([]byte{0})
	hasher.Write(material)
	return KeyID(kind + "-" + hex.EncodeToString(hasher.Sum(nil)[:16]))
}
