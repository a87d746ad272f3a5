// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "sync"

// taskQueue runs tasks one at a time, in the order they were posted, on
// a single goroutine. Posting never blocks.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	queue := &taskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go queue.run()
	return queue
}

// post appends task. It reports false once the queue is closed.
func (q *taskQueue) post(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops the queue after the running task and returns the tasks
// that had not started. Later posts are refused.
func (q *taskQueue) close() []func() {
	q.mu.Lock()
	q.closed = true
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pending
}

func (q *taskQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
