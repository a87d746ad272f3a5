// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/rendezvous/lib/config"
	"github.com/bureau-foundation/rendezvous/relay"
)

func TestHealthCheck(t *testing.T) {
	server := relay.NewServer(relay.ServerConfig{})
	t.Cleanup(server.Close)
	httpServer := httptest.NewServer(newMux(server))
	t.Cleanup(httpServer.Close)

	response, err := http.Get(httpServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatal(err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	if got := string(body); got != "ok retained=0\n" {
		t.Errorf("body = %q", got)
	}
}

func TestBusEndpointAcceptsWebsockets(t *testing.T) {
	server := relay.NewServer(relay.ServerConfig{})
	t.Cleanup(server.Close)
	httpServer := httptest.NewServer(newMux(server))
	t.Cleanup(httpServer.Close)

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/bus"
	conn, err := relay.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", url, err)
	}
	conn.Close()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Relay.Listen != config.Default().Relay.Listen {
		t.Errorf("Relay.Listen = %q, want default", cfg.Relay.Listen)
	}

	path := filepath.Join(t.TempDir(), "relay.jsonc")
	content := `{
		// public relay
		"relay": {"listen": ":7500", "max_frame_bytes": 2048},
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvironmentVariable, path)
	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig from environment: %v", err)
	}
	if cfg.Relay.Listen != ":7500" || cfg.Relay.MaxFrameBytes != 2048 {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
}
