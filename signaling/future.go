// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"sync"
)

// Connection is a successful handshake.
type Connection struct {
	Peer *Peer

	// Metadata is the other party's: the responder's acceptance
	// metadata for an initiator, the initiator's request metadata for
	// a responder.
	Metadata Metadata
}

// Future is the outcome of one handshake. It settles exactly once.
type Future struct {
	done chan struct{}
	once sync.Once

	connection *Connection
	err        error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	future := newFuture()
	future.fail(err)
	return future
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. It must only be called after Done is
// closed.
func (f *Future) Result() (*Connection, error) {
	select {
	case <-f.done:
		return f.connection, f.err
	default:
		panic("signaling: Result called on an unsettled Future")
	}
}

// Wait blocks until the future settles or ctx is done. A handshake
// failure is a *Failure.
func (f *Future) Wait(ctx context.Context) (*Connection, error) {
	select {
	case <-f.done:
		return f.connection, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) resolve(connection *Connection) bool {
	settled := false
	f.once.Do(func() {
		f.connection = connection
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future) fail(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}
