// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/netutil"
)

// Conn is a client connection to a relay Server.
type Conn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ bus.Carrier = (*Conn)(nil)

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, response, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing relay %s: %w (HTTP %d)", url, err, response.StatusCode)
		}
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}
	return &Conn{
		conn:   conn,
		logger: logger.With("relay", url),
		done:   make(chan struct{}),
	}, nil
}

// Send writes one frame. The context deadline, if any, bounds the write.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if c.isClosed() {
			return bus.ErrClosed
		}
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Attach starts delivering inbound frames to deliver.
func (c *Conn) Attach(deliver func([]byte)) {
	go c.readLoop(deliver)
}

// Done is closed when the connection to the relay ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(deliver func([]byte)) {
	defer close(c.done)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && !isExpectedClose(err) {
				c.logger.Warn("relay connection lost", "error", err)
			}
			return
		}
		if messageType == websocket.BinaryMessage {
			deliver(data)
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// isExpectedClose reports errors from an orderly websocket or TCP
// shutdown.
func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return netutil.IsExpectedCloseError(err)
}
