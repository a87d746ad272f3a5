// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// DataChannelConn is a detached data channel presented as a net.Conn.
// SCTP fragments and reassembles messages, so the stream behaves like a
// TCP connection to the code using it.
//
// A deadline that passes closes the underlying stream, which unblocks
// pending I/O and leaves the conn permanently broken, as with net.Pipe.
type DataChannelConn struct {
	stream io.ReadWriteCloser
	local  net.Addr
	remote net.Addr

	mu      sync.Mutex
	read    deadline
	write   deadline
	expired bool
	closed  bool
}

var _ net.Conn = (*DataChannelConn)(nil)

// deadline is one armed deadline timer.
type deadline struct {
	timer *time.Timer
}

func (d *deadline) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// NewDataChannelConn wraps stream. The labels name the two ends in
// LocalAddr and RemoteAddr.
func NewDataChannelConn(stream io.ReadWriteCloser, localLabel, remoteLabel string) *DataChannelConn {
	return &DataChannelConn{
		stream: stream,
		local:  dataChannelAddr(localLabel),
		remote: dataChannelAddr(remoteLabel),
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) { return c.stream.Read(buffer) }

func (c *DataChannelConn) Write(buffer []byte) (int, error) { return c.stream.Write(buffer) }

// Close stops pending deadlines and closes the stream. Later calls
// return nil.
func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.read.stop()
	c.write.stop()
	if c.closed || c.expired {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.stream.Close()
}

func (c *DataChannelConn) LocalAddr() net.Addr  { return c.local }
func (c *DataChannelConn) RemoteAddr() net.Addr { return c.remote }

func (c *DataChannelConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.read, t)
	c.armLocked(&c.write, t)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.read, t)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.write, t)
	return nil
}

// armLocked replaces d with a timer for t. A zero t only clears it.
func (c *DataChannelConn) armLocked(d *deadline, t time.Time) {
	d.stop()
	if t.IsZero() || c.expired || c.closed {
		return
	}
	remaining := time.Until(t)
	if remaining <= 0 {
		c.expireLocked()
		return
	}
	d.timer = time.AfterFunc(remaining, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked()
	})
}

func (c *DataChannelConn) expireLocked() {
	if c.expired || c.closed {
		return
	}
	c.expired = true
	c.stream.Close()
}

// dataChannelAddr is the net.Addr of one end of a data channel.
type dataChannelAddr string

func (a dataChannelAddr) Network() string { return "webrtc" }
func (a dataChannelAddr) String() string  { return string(a) }
