// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// The bus node keeps room keys and private keys in a [Buffer]: an
// anonymous mmap region excluded from core dumps, locked into RAM when
// the process's RLIMIT_MEMLOCK allows, and zeroed on Close. The garbage
// collector never sees the region, so no stray copies of a key survive
// a node shutdown.
//
// [ReadFromPath] loads a room password from a file or stdin straight
// into a Buffer.
package secret
