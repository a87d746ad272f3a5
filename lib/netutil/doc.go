// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds connection helpers shared by the relay and the
// rendezvous CLI.
//
// [IsExpectedCloseError] classifies errors from normal teardown so they
// are not logged as failures. [Pipe] copies between a peer connection
// and a local reader/writer pair until either side finishes.
package netutil
