// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads rendezvous configuration from a single file.
//
// The file is named by the RENDEZVOUS_CONFIG environment variable (via
// [Load]) or a --config flag (via [LoadFile]). There is no search path
// and no per-field environment override; what is in the file is what
// runs.
//
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas; everything else is YAML. String fields that carry secrets or
// addresses expand ${VAR} and ${VAR:-default} after loading, so a room
// password can live in the environment rather than in the file:
//
//	room_password: ${RENDEZVOUS_ROOM_PASSWORD}
//	relay_url: ws://relay.example.net:7400/bus
//	connection_timeout: 30s
package config
