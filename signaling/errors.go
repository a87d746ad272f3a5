// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"fmt"
)

// Failure codes carried in Failure metadata.
const (
	CodeConnectionTimeout = "ERR_CONNECTION_TIMEOUT"
	CodePrematureClose    = "ERR_PREMATURE_CLOSE"
	CodeClientDestroyed   = "ERR_CLIENT_DESTROYED"

	// CodeConnectionFailed is sent in a rejection when the responder
	// could not create its side of the connection.
	CodeConnectionFailed = "ERR_CONNECTION_FAILED"
)

var (
	// ErrNotReady is returned by Connect before the client has finished
	// generating keys and subscribing.
	ErrNotReady = errors.New("signaling: must complete discovery first")

	// ErrClientDestroyed is returned for operations on a destroyed
	// client, and matches failures caused by Destroy.
	ErrClientDestroyed = errors.New("signaling: client destroyed")

	// ErrConnectionTimeout matches handshakes that did not connect in
	// time.
	ErrConnectionTimeout = errors.New("signaling: connection timeout")

	// ErrPrematureClose matches handshakes whose connection closed
	// before connecting.
	ErrPrematureClose = errors.New("signaling: connection closed before connecting")

	// ErrRejected matches handshakes the other party rejected.
	ErrRejected = errors.New("signaling: rejected")
)

// Metadata is application data exchanged during a handshake.
type Metadata map[string]any

// Failure is how a handshake fails. Timeouts, premature closes and
// destruction carry a "code" entry; a rejection carries whatever the
// rejecting party supplied.
type Failure struct {
	Metadata Metadata
}

func newFailure(code string) *Failure {
	return &Failure{Metadata: Metadata{"code": code}}
}

// Code returns the "code" metadata entry, or "" if there is none.
func (f *Failure) Code() string {
	code, _ := f.Metadata["code"].(string)
	return code
}

func (f *Failure) Error() string {
	if code := f.Code(); code != "" {
		return fmt.Sprintf("signaling: handshake failed: %s", code)
	}
	return fmt.Sprintf("signaling: handshake rejected: %v", map[string]any(f.Metadata))
}

// Is maps failure codes to the package sentinels. A failure without a
// known code is a rejection.
func (f *Failure) Is(target error) bool {
	switch f.Code() {
	case CodeConnectionTimeout:
		return target == ErrConnectionTimeout
	case CodePrematureClose:
		return target == ErrPrematureClose
	case CodeClientDestroyed:
		return target == ErrClientDestroyed
	}
	return target == ErrRejected
}
