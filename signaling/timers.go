// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"time"

	"github.com/bureau-foundation/rendezvous/lib/clock"
)

// timers holds at most one connection timer per scoped session id. It
// is only touched from the task goroutine.
type timers struct {
	clock   clock.Clock
	timeout time.Duration
	post    func(func()) bool
	active  map[string]*armedTimer
}

type armedTimer struct {
	timer *clock.Timer
}

func newTimers(clk clock.Clock, timeout time.Duration, post func(func()) bool) *timers {
	return &timers{
		clock:   clk,
		timeout: timeout,
		post:    post,
		active:  make(map[string]*armedTimer),
	}
}

// start arms the timer for id, replacing any existing one. fire runs on
// the task goroutine after the timer has been removed. A negative
// timeout arms nothing.
func (t *timers) start(id string, fire func()) {
	t.clear(id)
	if t.timeout < 0 {
		return
	}
	entry := &armedTimer{}
	t.active[id] = entry
	entry.timer = t.clock.AfterFunc(t.timeout, func() {
		t.post(func() {
			// A timer stopped after it fired, or replaced, is stale.
			if t.active[id] != entry {
				return
			}
			delete(t.active, id)
			fire()
		})
	})
}

// clear stops and removes the timer for id, if any.
func (t *timers) clear(id string) {
	entry, ok := t.active[id]
	if !ok {
		return
	}
	delete(t.active, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
}

func (t *timers) clearAll() {
	for id := range t.active {
		t.clear(id)
	}
}
