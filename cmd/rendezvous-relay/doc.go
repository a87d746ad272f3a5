// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rendezvous-relay is the store-and-forward bus carrier that rendezvous
// clients dial. It serves a websocket endpoint at /bus, keeps every
// frame until it expires, and replays retained frames to clients that
// connect later. Frames are sealed end to end; the relay never sees
// message contents.
package main
