// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bureau-foundation/rendezvous/lib/clock"
	"github.com/bureau-foundation/rendezvous/lib/codec"
	"github.com/bureau-foundation/rendezvous/lib/sealed"
	"github.com/bureau-foundation/rendezvous/lib/secret"
)

// Carrier moves serialized frames between nodes. Send may deliver the
// frame back to the sending node.
type Carrier interface {
	// Send publishes a frame.
	Send(ctx context.Context, frame []byte) error

	// Attach sets the function receiving inbound frames. It is called
	// once, before any Send. deliver may be called from any goroutine,
	// concurrently.
	Attach(deliver func(frame []byte))

	// Close detaches from the transport.
	Close() error
}

// NodeConfig configures a Node.
type NodeConfig struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Node is a MessageBus over a Carrier.
type Node struct {
	carrier Carrier
	clock   clock.Clock
	logger  *slog.Logger

	// keyLock is held for reading while key material is in use, and
	// for writing while Close releases it.
	keyLock sync.RWMutex

	mu            sync.Mutex
	closed        bool
	roomKeys      map[KeyID]*secret.Buffer
	keyPairs      map[KeyID]*keyPair
	subscriptions map[*subscription]struct{}
	pool          map[FrameHash]*pooled
	poolOrder     []FrameHash
}

type pooled struct {
	frame *Frame
	hash  FrameHash
}

type subscription struct {
	node    *Node
	filter  Filter
	handler Handler
}

func (s *subscription) Unsubscribe() {
	s.node.mu.Lock()
	delete(s.node.subscriptions, s)
	s.node.mu.Unlock()
}

var _ MessageBus = (*Node)(nil)

// NewNode creates a node and attaches it to carrier.
func NewNode(carrier Carrier, config NodeConfig) *Node {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	node := &Node{
		carrier:       carrier,
		clock:         config.Clock,
		logger:        config.Logger,
		roomKeys:      make(map[KeyID]*secret.Buffer),
		keyPairs:      make(map[KeyID]*keyPair),
		subscriptions: make(map[*subscription]struct{}),
		pool:          make(map[FrameHash]*pooled),
	}
	carrier.Attach(node.receive)
	return node
}

// GenerateSymKeyFromPassword derives the room key for password. The same
// password always yields the same KeyID.
func (n *Node) GenerateSymKeyFromPassword(ctx context.Context, password string) (KeyID, error) {
	key, err := sealed.DeriveRoomKey([]byte(password))
	if err != nil {
		return "", err
	}
	id := keyID("sym", key.Bytes())

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		key.Close()
		return "", ErrClosed
	}
	if _, exists := n.roomKeys[id]; exists {
		key.Close()
		return id, nil
	}
	n.roomKeys[id] = key
	return id, nil
}

// NewKeyPair creates a keypair.
func (n *Node) NewKeyPair(ctx context.Context) (KeyID, error) {
	pair, err := generateKeyPair()
	if err != nil {
		return "", err
	}
	id := keyID("pair", []byte(pair.public))

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		pair.close()
		return "", ErrClosed
	}
	n.keyPairs[id] = pair
	return id, nil
}

// PublicKey returns the public key of a keypair.
func (n *Node) PublicKey(ctx context.Context, id KeyID) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pair, ok := n.keyPairs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	return pair.public, nil
}

// Subscribe registers handler. Retained frames that match are delivered
// before Subscribe returns.
func (n *Node) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	if (filter.SymKeyID == "") == (filter.PrivateKeyID == "") {
		return nil, errors.New("bus: filter needs exactly one of SymKeyID and PrivateKeyID")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	if filter.SymKeyID != "" {
		if _, ok := n.roomKeys[filter.SymKeyID]; !ok {
			n.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, filter.SymKeyID)
		}
	} else if _, ok := n.keyPairs[filter.PrivateKeyID]; !ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, filter.PrivateKeyID)
	}

	sub := &subscription{node: n, filter: filter, handler: handler}
	n.subscriptions[sub] = struct{}{}
	n.pruneLocked()
	var retained []*pooled
	for _, hash := range n.poolOrder {
		if entry := n.pool[hash]; filter.matches(entry.frame.Topic) {
			retained = append(retained, entry)
		}
	}
	n.mu.Unlock()

	for _, entry := range retained {
		n.deliver(sub, entry)
	}
	return sub, nil
}

// Post seals, signs and sends a message.
func (n *Node) Post(ctx context.Context, post Post) error {
	if (post.SymKeyID == "") == (post.PublicKey == "") {
		return errors.New("bus: post needs exactly one of SymKeyID and PublicKey")
	}
	data, err := n.seal(post)
	if err != nil {
		return err
	}
	if err := n.carrier.Send(ctx, data); err != nil {
		return fmt.Errorf("sending frame on %s: %w", post.Topic, err)
	}
	return nil
}

// seal builds the serialized frame for post.
func (n *Node) seal(post Post) ([]byte, error) {
	ttl := post.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	n.keyLock.RLock()
	defer n.keyLock.RUnlock()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	signer, signerOK := n.keyPairs[post.Sig]
	roomKey, roomOK := n.roomKeys[post.SymKeyID]
	n.mu.Unlock()

	if post.Sig != "" && !signerOK {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, post.Sig)
	}
	if post.SymKeyID != "" && !roomOK {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, post.SymKeyID)
	}

	frame := &Frame{
		Topic:     post.Topic,
		Expiry:    n.clock.Now().Add(ttl).UnixMilli(),
		TTL:       uint32(math.Ceil(ttl.Seconds())),
		PowTarget: post.PowTarget,
		PowTime:   uint32(post.PowTime / time.Second),
	}

	content := body{Payload: post.Payload}
	if signer != nil {
		signed, err := signedContent(frame.Topic, post.Payload, frame.Expiry)
		if err != nil {
			return nil, fmt.Errorf("encoding signed content: %w", err)
		}
		content.Signer = signer.public
		content.Signature = signer.sign(signed)
	}
	plaintext, err := codec.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding frame body: %w", err)
	}

	if roomKey != nil {
		frame.Kind = FrameRoom
		header, err := frame.header()
		if err != nil {
			return nil, fmt.Errorf("encoding frame header: %w", err)
		}
		if frame.Sealed, err = sealed.SealRoom(roomKey, plaintext, header); err != nil {
			return nil, err
		}
	} else {
		_, recipient, err := ParsePublicKey(post.PublicKey)
		if err != nil {
			return nil, err
		}
		frame.Kind = FrameAddressed
		if frame.Sealed, err = sealed.Seal(plaintext, recipient); err != nil {
			return nil, err
		}
	}

	data, err := EncodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}

// Close drops all subscriptions, releases key material and closes the
// carrier.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	roomKeys, keyPairs := n.roomKeys, n.keyPairs
	n.roomKeys = nil
	n.keyPairs = nil
	n.subscriptions = nil
	n.pool = nil
	n.poolOrder = nil
	n.mu.Unlock()

	n.keyLock.Lock()
	for _, key := range roomKeys {
		key.Close()
	}
	for _, pair := range keyPairs {
		pair.close()
	}
	n.keyLock.Unlock()

	return n.carrier.Close()
}

// receive is the carrier's delivery callback.
func (n *Node) receive(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		n.logger.Debug("dropping undecodable frame", "error", err)
		return
	}
	if frame.Expired(n.clock.Now()) {
		return
	}
	hash := HashFrame(data)
	entry := &pooled{frame: frame, hash: hash}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.pruneLocked()
	if _, seen := n.pool[hash]; seen {
		n.mu.Unlock()
		return
	}
	n.pool[hash] = entry
	n.poolOrder = append(n.poolOrder, hash)
	var targets []*subscription
	for sub := range n.subscriptions {
		if sub.filter.matches(frame.Topic) {
			targets = append(targets, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range targets {
		n.deliver(sub, entry)
	}
}

// pruneLocked drops expired frames from the pool.
func (n *Node) pruneLocked() {
	now := n.clock.Now()
	kept := n.poolOrder[:0]
	for _, hash := range n.poolOrder {
		if n.pool[hash].frame.Expired(now) {
			delete(n.pool, hash)
			continue
		}
		kept = append(kept, hash)
	}
	n.poolOrder = kept
}

// deliver opens a frame with the subscription's key and calls its
// handler. Frames sealed for other keys are skipped silently.
func (n *Node) deliver(sub *subscription, entry *pooled) {
	frame := entry.frame
	message := &Message{
		Topic:     frame.Topic,
		TTL:       time.Duration(frame.TTL) * time.Second,
		Timestamp: frame.ExpiresAt().Add(-time.Duration(frame.TTL) * time.Second),
		Hash:      entry.hash.String(),
	}

	plaintext, err := n.open(sub.filter, frame, message)
	if errors.Is(err, sealed.ErrNotRecipient) || errors.Is(err, ErrClosed) {
		return
	}
	if err != nil {
		sub.handler(nil, fmt.Errorf("opening frame %s: %w", message.Hash, err))
		return
	}

	var content body
	if err := codec.Unmarshal(plaintext, &content); err != nil {
		sub.handler(nil, fmt.Errorf("decoding frame %s body: %w", message.Hash, err))
		return
	}
	if content.Signer != "" {
		if err := verify(frame, &content); err != nil {
			sub.handler(nil, fmt.Errorf("frame %s: %w", message.Hash, err))
			return
		}
		message.Sig = content.Signer
	}
	message.Payload = content.Payload
	sub.handler(message, nil)
}

func (n *Node) open(filter Filter, frame *Frame, message *Message) ([]byte, error) {
	n.keyLock.RLock()
	defer n.keyLock.RUnlock()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	roomKey := n.roomKeys[filter.SymKeyID]
	pair := n.keyPairs[filter.PrivateKeyID]
	n.mu.Unlock()

	switch {
	case frame.Kind == FrameRoom && roomKey != nil:
		header, err := frame.header()
		if err != nil {
			return nil, err
		}
		return sealed.OpenRoom(roomKey, frame.Sealed, header)
	case frame.Kind == FrameAddressed && pair != nil:
		message.RecipientPublicKey = pair.public
		return sealed.Open(frame.Sealed, pair.encryption.PrivateKey)
	}
	return nil, sealed.ErrNotRecipient
}

func verify(frame *Frame, content *body) error {
	signing, _, err := ParsePublicKey(content.Signer)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	signed, err := signedContent(frame.Topic, content.Payload, frame.Expiry)
	if err != nil {
		return err
	}
	if !ed25519.Verify(signing, signed, content.Signature) {
		return errors.New("bad signature")
	}
	return nil
}
