// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/clock"
	"github.com/bureau-foundation/rendezvous/lib/testutil"
)

var (
	epoch         = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	topicDiscover = bus.MustParseTopic("0x87139212")
)

func encodeFrame(t *testing.T, expiry time.Time, body string) []byte {
	t.Helper()
	data, err := bus.EncodeFrame(&bus.Frame{
		Kind:   bus.FrameRoom,
		Topic:  topicDiscover,
		Expiry: expiry.UnixMilli(),
		TTL:    5,
		Sealed: []byte(body),
	})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return data
}

func TestPublishValidation(t *testing.T) {
	fake := clock.Fake(epoch)
	server := NewServer(ServerConfig{MaxFrameBytes: 256, Clock: fake})

	if err := server.Publish(encodeFrame(t, epoch.Add(time.Second), strings.Repeat("x", 300))); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversize frame: %v, want ErrFrameTooLarge", err)
	}
	if err := server.Publish(encodeFrame(t, epoch, "late")); !errors.Is(err, ErrFrameExpired) {
		t.Errorf("expired frame: %v, want ErrFrameExpired", err)
	}
	if err := server.Publish([]byte{0xff, 0x01}); err == nil {
		t.Error("garbage frame accepted")
	}
	if server.Retained() != 0 {
		t.Errorf("Retained() = %d after rejected frames", server.Retained())
	}
}

func TestPublishDeduplicates(t *testing.T) {
	fake := clock.Fake(epoch)
	server := NewServer(ServerConfig{Clock: fake})
	frame := encodeFrame(t, epoch.Add(5*time.Second), "once")

	for range 3 {
		if err := server.Publish(frame); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if server.Retained() != 1 {
		t.Fatalf("Retained() = %d, want 1", server.Retained())
	}
}

func TestSweepHonoursExpiryAndRetention(t *testing.T) {
	fake := clock.Fake(epoch)
	server := NewServer(ServerConfig{Clock: fake, Retention: 10 * time.Second})

	if err := server.Publish(encodeFrame(t, epoch.Add(5*time.Second), "short")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := server.Publish(encodeFrame(t, epoch.Add(time.Hour), "long")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	fake.Advance(5 * time.Second)
	server.Sweep()
	if server.Retained() != 1 {
		t.Fatalf("Retained() = %d after first expiry, want 1", server.Retained())
	}

	// The hour-long frame is capped at the 10s retention.
	fake.Advance(5 * time.Second)
	server.Sweep()
	if server.Retained() != 0 {
		t.Fatalf("Retained() = %d after retention, want 0", server.Retained())
	}
}

func TestRunSweepsOnTicker(t *testing.T) {
	fake := clock.Fake(epoch)
	server := NewServer(ServerConfig{Clock: fake, SweepInterval: time.Second})
	if err := server.Publish(encodeFrame(t, epoch.Add(500*time.Millisecond), "brief")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		server.Run(ctx)
		close(stopped)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for server.Retained() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker sweep did not drop the expired frame")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	testutil.RequireClosed(t, stopped, 5*time.Second, "Run returns after cancel")
}

func startRelay(t *testing.T) (*Server, string) {
	t.Helper()
	server := NewServer(ServerConfig{})
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func dialNode(t *testing.T, url string) *bus.Node {
	t.Helper()
	conn, err := Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	node := bus.NewNode(conn, bus.NodeConfig{})
	t.Cleanup(func() { node.Close() })
	return node
}

func subscribeRoom(t *testing.T, node *bus.Node, password string) <-chan *bus.Message {
	t.Helper()
	ctx := context.Background()
	room, err := node.GenerateSymKeyFromPassword(ctx, password)
	if err != nil {
		t.Fatalf("GenerateSymKeyFromPassword: %v", err)
	}
	messages := make(chan *bus.Message, 16)
	_, err = node.Subscribe(ctx, bus.Filter{SymKeyID: room, Topics: []bus.Topic{topicDiscover}}, func(message *bus.Message, err error) {
		if err == nil {
			messages <- message
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return messages
}

func postRoom(t *testing.T, node *bus.Node, password, payload string) {
	t.Helper()
	ctx := context.Background()
	room, err := node.GenerateSymKeyFromPassword(ctx, password)
	if err != nil {
		t.Fatalf("GenerateSymKeyFromPassword: %v", err)
	}
	if err := node.Post(ctx, bus.Post{SymKeyID: room, Topic: topicDiscover, Payload: []byte(payload)}); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func TestNodesExchangeFramesThroughRelay(t *testing.T) {
	_, url := startRelay(t)
	password := testutil.UniqueID("room")

	sender := dialNode(t, url)
	receiver := dialNode(t, url)
	messages := subscribeRoom(t, receiver, password)
	// The sender sees its own frame come back from the relay.
	echoes := subscribeRoom(t, sender, password)

	postRoom(t, sender, password, "over the wire")

	message := testutil.RequireReceive(t, messages, 5*time.Second, "receiver delivery")
	if string(message.Payload) != "over the wire" {
		t.Errorf("Payload = %q", message.Payload)
	}
	testutil.RequireReceive(t, echoes, 5*time.Second, "sender echo")
}

func TestLateClientReceivesBacklog(t *testing.T) {
	server, url := startRelay(t)
	password := testutil.UniqueID("room")

	sender := dialNode(t, url)
	postRoom(t, sender, password, "before you came")

	deadline := time.Now().Add(5 * time.Second)
	for server.Retained() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay never retained the frame")
		}
		time.Sleep(time.Millisecond)
	}

	late := dialNode(t, url)
	messages := subscribeRoom(t, late, password)
	message := testutil.RequireReceive(t, messages, 5*time.Second, "backlog delivery")
	if string(message.Payload) != "before you came" {
		t.Errorf("Payload = %q", message.Payload)
	}
}

func TestConnCloseEndsReadLoop(t *testing.T) {
	_, url := startRelay(t)
	conn, err := Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Attach(func([]byte) {})
	if err := conn.Close(); err != nil && !isExpectedClose(err) {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, conn.Done(), 5*time.Second, "read loop exit")
	if err := conn.Send(context.Background(), []byte{1}); err == nil {
		t.Error("Send after Close succeeded")
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/bus", nil); err == nil {
		t.Fatal("Dial to a closed port succeeded")
	}
}
