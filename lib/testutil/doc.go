// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] wrap the
// select-with-timeout pattern so tests never block forever on a
// handshake that fails to complete. They are the only place test code
// waits on the wall clock; protocol timeouts under test run on
// clock.FakeClock.
//
// [UniqueID] hands out distinct identifiers (room passwords, discovery
// payloads) so parallel tests sharing a hub cannot observe each other.
package testutil
