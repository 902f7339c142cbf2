// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ipc

import "sync"

// msgQueue is an unbounded FIFO between the listener and the dispatcher, so
// the listener never blocks on a slow handler and replies keep flowing.
type msgQueue struct {
	mu     sync.Mutex
	items  []*Message
	signal chan struct{}
	closed bool
}

func newMsgQueue() *msgQueue {
	return &msgQueue{signal: make(chan struct{}, 1)}
}

func (q *msgQueue) push(m *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, m)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a message is available. It returns false once the queue
// is closed and drained.
func (q *msgQueue) pop() (*Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

func (q *msgQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}
