// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"io"
	"net"
)

type copyResult struct {
	outbound bool
	err      error
}

// Pipe copies local input to conn and conn to output until conn stops
// delivering data. Reaching EOF on input does not end the pipe: the
// remote side may still be sending. A write failure towards conn does.
// conn is always closed on return.
//
// The goroutine reading input is abandoned if input never returns, as
// with an interactive terminal. Expected close errors are reported as
// nil.
func Pipe(conn net.Conn, input io.Reader, output io.Writer) error {
	done := make(chan copyResult, 2)

	go func() {
		_, err := io.Copy(conn, input)
		done <- copyResult{outbound: true, err: err}
	}()
	go func() {
		_, err := io.Copy(output, conn)
		done <- copyResult{err: err}
	}()

	var result copyResult
	for {
		result = <-done
		if result.outbound && result.err == nil {
			continue
		}
		break
	}
	conn.Close()
	if result.outbound {
		<-done
	}

	if result.err != nil && !IsExpectedCloseError(result.err) {
		return result.err
	}
	return nil
}
