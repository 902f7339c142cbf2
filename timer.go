// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import "sync"

// TimerManager maps timer ids to callbacks for one script context. Ids start
// at 1 and are never reused by the same manager.
type TimerManager[T any] struct {
	mu     sync.Mutex
	nextID uint32
	timers map[uint32]T
}

// NewTimerManager returns an empty manager.
func NewTimerManager[T any]() *TimerManager[T] {
	return &TimerManager[T]{timers: make(map[uint32]T)}
}

// Add stores cb and returns its id.
func (m *TimerManager[T]) Add(cb T) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.timers[m.nextID] = cb
	return m.nextID
}

// Get returns the callback of id if the timer is still registered.
func (m *TimerManager[T]) Get(id uint32) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.timers[id]
	return cb, ok
}

// Remove unregisters id and returns its callback.
func (m *TimerManager[T]) Remove(id uint32) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.timers[id]
	if ok {
		delete(m.timers, id)
	}
	return cb, ok
}

// Clear unregisters every timer and returns their callbacks.
func (m *TimerManager[T]) Clear() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, 0, len(m.timers))
	for id, cb := range m.timers {
		out = append(out, cb)
		delete(m.timers, id)
	}
	return out
}

// Len returns the number of registered timers.
func (m *TimerManager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
