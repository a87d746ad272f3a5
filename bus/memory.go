// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"

	"github.com/bureau-foundation/rendezvous/lib/clock"
)

// MemoryHub is an in-process store-and-forward carrier. Every frame sent
// by any endpoint is delivered to every attached endpoint, the sender
// included, and retained until it expires so endpoints attaching later
// receive it too. Frames with a hash already retained are dropped.
//
// Delivery is synchronous on the sending goroutine.
type MemoryHub struct {
	clock clock.Clock

	mu        sync.Mutex
	endpoints map[*hubEndpoint]struct{}
	retained  map[FrameHash]*retainedFrame
	order     []FrameHash
}

type retainedFrame struct {
	data  []byte
	frame *Frame
}

// NewMemoryHub creates an empty hub. A nil clock uses the real clock.
func NewMemoryHub(clk clock.Clock) *MemoryHub {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryHub{
		clock:     clk,
		endpoints: make(map[*hubEndpoint]struct{}),
		retained:  make(map[FrameHash]*retainedFrame),
	}
}

// Endpoint returns a new Carrier connected to the hub.
func (h *MemoryHub) Endpoint() Carrier {
	return &hubEndpoint{hub: h}
}

// Retained returns the number of unexpired frames held by the hub.
func (h *MemoryHub) Retained() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	return len(h.order)
}

func (h *MemoryHub) publish(data []byte) error {
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	if frame.Expired(h.clock.Now()) {
		return nil
	}
	hash := HashFrame(data)
	owned := append([]byte(nil), data...)

	h.mu.Lock()
	h.pruneLocked()
	if _, exists := h.retained[hash]; exists {
		h.mu.Unlock()
		return nil
	}
	h.retained[hash] = &retainedFrame{data: owned, frame: frame}
	h.order = append(h.order, hash)
	targets := make([]*hubEndpoint, 0, len(h.endpoints))
	for endpoint := range h.endpoints {
		targets = append(targets, endpoint)
	}
	h.mu.Unlock()

	for _, endpoint := range targets {
		endpoint.deliver(owned)
	}
	return nil
}

func (h *MemoryHub) attach(endpoint *hubEndpoint) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	h.endpoints[endpoint] = struct{}{}
	backlog := make([][]byte, 0, len(h.order))
	for _, hash := range h.order {
		backlog = append(backlog, h.retained[hash].data)
	}
	return backlog
}

func (h *MemoryHub) detach(endpoint *hubEndpoint) {
	h.mu.Lock()
	delete(h.endpoints, endpoint)
	h.mu.Unlock()
}

func (h *MemoryHub) pruneLocked() {
	now := h.clock.Now()
	kept := h.order[:0]
	for _, hash := range h.order {
		if h.retained[hash].frame.Expired(now) {
			delete(h.retained, hash)
			continue
		}
		kept = append(kept, hash)
	}
	h.order = kept
}

type hubEndpoint struct {
	hub *MemoryHub

	mu      sync.Mutex
	receive func([]byte)
	closed  bool
}

func (e *hubEndpoint) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.hub.publish(frame)
}

func (e *hubEndpoint) Attach(deliver func([]byte)) {
	e.mu.Lock()
	e.receive = deliver
	e.mu.Unlock()
	for _, frame := range e.hub.attach(e) {
		e.deliver(frame)
	}
}

func (e *hubEndpoint) deliver(frame []byte) {
	e.mu.Lock()
	receive, closed := e.receive, e.closed
	e.mu.Unlock()
	if closed || receive == nil {
		return
	}
	receive(frame)
}

func (e *hubEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.hub.detach(e)
	return nil
}
