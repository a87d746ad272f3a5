// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay carries bus frames between processes over websockets.
//
// [Server] is a store-and-forward hub. Each binary websocket message is
// one serialized bus frame. The server checks the frame's size and
// expiry, drops frames it already holds, retains the rest until they
// expire (capped at the configured retention), and broadcasts them to
// every connected client, the sender included. A client that connects
// later first receives every retained frame.
//
// The server never opens frames: it sees topic, expiry and the sealed
// body only.
//
// [Dial] returns a [Conn], the client side, which implements
// bus.Carrier:
//
//	conn, err := relay.Dial(ctx, "ws://127.0.0.1:7400/bus", logger)
//	node := bus.NewNode(conn, bus.NodeConfig{Logger: logger})
package relay
