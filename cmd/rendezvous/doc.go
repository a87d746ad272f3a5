// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rendezvous joins a room on a relay, announces itself, and opens a
// WebRTC data channel to one other participant. Once connected it pipes
// stdin to the channel and the channel to stdout, like netcat.
//
// One side runs with --listen and accepts the first request it
// receives. The other side connects to the first participant it
// discovers. Both sides must use the same room password:
//
//	rendezvous --relay ws://relay.example:7400/bus --prompt-password --listen
//	rendezvous --relay ws://relay.example:7400/bus --prompt-password
package main
