// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/wire"
)

// inbound is a message that passed the filter.
type inbound struct {
	signer  string
	raw     string
	scoped  string
	payload json.RawMessage
}

// filter wraps handle in the checks every subscription applies: bus
// errors are logged, unsigned messages and the client's own messages
// are dropped, and the payload is decoded and its session id scoped to
// the signer. handle runs on the task goroutine.
func (c *Client) filter(localSignature string, topic bus.Topic, handle func(inbound)) bus.Handler {
	return func(message *bus.Message, err error) {
		if err != nil {
			c.logger.Warn("bus subscription error", "topic", topic, "error", err)
			return
		}
		if message == nil || message.Sig == "" {
			c.logger.Debug("dropping unsigned message", "topic", topic)
			return
		}
		if message.Sig == localSignature {
			c.logger.Debug("dropping own message", "topic", topic)
			return
		}

		var payload json.RawMessage
		if err := wire.Decode(string(message.Payload), &payload); err != nil {
			c.logger.Warn("dropping malformed payload", "topic", topic, "sig", message.Sig, "error", err)
			return
		}
		var header sessionHeader
		if err := json.Unmarshal(payload, &header); err != nil {
			c.logger.Warn("dropping malformed payload", "topic", topic, "sig", message.Sig, "error", err)
			return
		}

		in := inbound{
			signer:  message.Sig,
			raw:     header.SessionID,
			scoped:  scopeSessionID(message.Sig, header.SessionID),
			payload: payload,
		}
		c.tasks.post(func() {
			if c.finished {
				return
			}
			c.registry.prune(c.clock.Now())
			handle(in)
		})
	}
}
