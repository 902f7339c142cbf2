// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache is an append-only keyed store that lives as long as the process.
// A Put on an existing key keeps the first value.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// NewCache returns an empty cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores v under key and reports whether it was added.
func (c *Cache[V]) Put(key string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = v
	return true
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BytecodeKey derives a cache key from script content.
func BytecodeKey(src []byte) string {
	return "xxh64:" + strconv.FormatUint(xxhash.Sum64(src), 16)
}
