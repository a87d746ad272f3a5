// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/clock"
)

var (
	// ErrFrameTooLarge rejects frames over the configured size.
	ErrFrameTooLarge = errors.New("relay: frame too large")

	// ErrFrameExpired rejects frames already past their expiry.
	ErrFrameExpired = errors.New("relay: frame expired")
)

const (
	defaultMaxFrameBytes = 64 << 10
	defaultRetention     = time.Minute
	defaultSweepInterval = time.Second

	// clientQueueDepth bounds frames waiting to be written to one
	// client. A client that falls further behind is disconnected.
	clientQueueDepth = 256

	writeTimeout = 10 * time.Second
)

// ServerConfig configures a Server. Zero fields take defaults.
type ServerConfig struct {
	MaxFrameBytes int
	Retention     time.Duration
	SweepInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Server is the relay's websocket endpoint.
type Server struct {
	config   ServerConfig
	clock    clock.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	clients  map[*client]struct{}
	retained map[bus.FrameHash]*retainedFrame
	order    []bus.FrameHash
}

type retainedFrame struct {
	data    []byte
	expires time.Time
}

type client struct {
	conn   *websocket.Conn
	remote string
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a relay server.
func NewServer(config ServerConfig) *Server {
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = defaultMaxFrameBytes
	}
	if config.Retention <= 0 {
		config.Retention = defaultRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Bus frames are end-to-end sealed; browsers on any origin
			// may relay them.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:  make(map[*client]struct{}),
		retained: make(map[bus.FrameHash]*retainedFrame),
	}
}

// ServeHTTP upgrades the request and serves one client until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(int64(s.config.MaxFrameBytes))

	c := &client{
		conn:   conn,
		remote: r.RemoteAddr,
		queue:  make(chan []byte, clientQueueDepth),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.pruneLocked()
	backlog := make([][]byte, 0, len(s.order))
	for _, hash := range s.order {
		backlog = append(backlog, s.retained[hash].data)
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("relay client connected", "remote", c.remote, "backlog", len(backlog))

	go s.writeLoop(c, backlog)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.stop()
	conn.Close()
	s.logger.Info("relay client disconnected", "remote", c.remote)
}

func (s *Server) readLoop(c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.logger.Warn("disconnecting client", "remote", c.remote, "error", ErrFrameTooLarge)
			case isExpectedClose(err):
			default:
				s.logger.Warn("relay read failed", "remote", c.remote, "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-binary message", "remote", c.remote)
			continue
		}
		if err := s.Publish(data); err != nil {
			s.logger.Debug("rejected frame", "remote", c.remote, "error", err)
		}
	}
}

func (s *Server) writeLoop(c *client, backlog [][]byte) {
	defer c.conn.Close()
	for _, data := range backlog {
		if !s.write(c, data) {
			return
		}
	}
	for {
		select {
		case data := <-c.queue:
			if !s.write(c, data) {
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) write(c *client, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if !isExpectedClose(err) {
			s.logger.Warn("relay write failed", "remote", c.remote, "error", err)
		}
		c.stop()
		return false
	}
	return true
}

// Publish validates a serialized frame, retains it and broadcasts it to
// every client. A frame already retained is accepted and not
// rebroadcast.
func (s *Server) Publish(data []byte) error {
	if len(data) > s.config.MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	frame, err := bus.DecodeFrame(data)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if frame.Expired(now) {
		return ErrFrameExpired
	}
	expires := frame.ExpiresAt()
	if limit := now.Add(s.config.Retention); expires.After(limit) {
		expires = limit
	}
	hash := bus.HashFrame(data)
	owned := append([]byte(nil), data...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return bus.ErrClosed
	}
	if _, exists := s.retained[hash]; exists {
		s.mu.Unlock()
		return nil
	}
	s.retained[hash] = &retainedFrame{data: owned, expires: expires}
	s.order = append(s.order, hash)
	var slow []*client
	for c := range s.clients {
		select {
		case c.queue <- owned:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		s.logger.Warn("disconnecting slow client", "remote", c.remote)
		c.stop()
	}
	return nil
}

// Retained returns the number of frames held for replay.
func (s *Server) Retained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Run sweeps expired frames until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep drops expired frames.
func (s *Server) Sweep() {
	s.mu.Lock()
	before := len(s.order)
	s.pruneLocked()
	dropped := before - len(s.order)
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Debug("swept expired frames", "count", dropped)
	}
}

func (s *Server) pruneLocked() {
	now := s.clock.Now()
	kept := s.order[:0]
	for _, hash := range s.order {
		if !now.Before(s.retained[hash].expires) {
			delete(s.retained, hash)
			continue
		}
		kept = append(kept, hash)
	}
	s.order = kept
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.stop()
	}
}
