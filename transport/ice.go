// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/rendezvous/lib/config"
)

// ICEConfig holds the ICE servers used for candidate gathering.
type ICEConfig struct {
	// Servers lists STUN and TURN servers. Empty means host candidates
	// only, which is enough on one machine or one LAN.
	Servers []webrtc.ICEServer
}

// ICEConfigFromServers converts configured ICE servers into pion
// entries. Servers without URLs are skipped.
func ICEConfigFromServers(servers []config.ICEServer) ICEConfig {
	var result ICEConfig
	for _, server := range servers {
		if len(server.URLs) == 0 {
			continue
		}
		entry := webrtc.ICEServer{URLs: append([]string(nil), server.URLs...)}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		result.Servers = append(result.Servers, entry)
	}
	return result
}
