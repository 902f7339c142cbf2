// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

// gcInterval makes erasing every n-th numeric page id collect garbage.
const gcInterval = 20

// ContextHolder owns the global context of a runtime and the instance
// contexts keyed by page id. It is only used on the owner loop.
type ContextHolder[C any] struct {
	global    C
	hasGlobal bool
	contexts  map[string]C
	release   func(C)
	gc        func()
}

// NewContextHolder returns an empty holder. release is called for every
// context leaving the holder and gc by the collection heuristic; both may
// be nil.
func NewContextHolder[C any](release func(C), gc func()) *ContextHolder[C] {
	return &ContextHolder[C]{
		contexts: make(map[string]C),
		release:  release,
		gc:       gc,
	}
}

// SetGlobal installs the global context, releasing a previous one.
func (h *ContextHolder[C]) SetGlobal(c C) {
	if h.hasGlobal && h.release != nil {
		h.release(h.global)
	}
	h.global, h.hasGlobal = c, true
}

// Global returns the global context.
func (h *ContextHolder[C]) Global() (C, bool) {
	return h.global, h.hasGlobal
}

// Find returns the instance context of pageID.
func (h *ContextHolder[C]) Find(pageID string) (C, bool) {
	c, ok := h.contexts[pageID]
	return c, ok
}

// FindOrGlobal returns the instance context of pageID, falling back to the
// global context.
func (h *ContextHolder[C]) FindOrGlobal(pageID string) (C, bool) {
	if c, ok := h.contexts[pageID]; ok {
		return c, true
	}
	return h.global, h.hasGlobal
}

// Put registers c for pageID. An existing context of the page is erased
// first.
func (h *ContextHolder[C]) Put(pageID string, c C) {
	h.Erase(pageID)
	h.contexts[pageID] = c
}

// Erase releases the context of pageID. Unknown ids are ignored.
func (h *ContextHolder[C]) Erase(pageID string) bool {
	c, ok := h.contexts[pageID]
	if !ok {
		return false
	}
	delete(h.contexts, pageID)
	if h.release != nil {
		h.release(c)
	}
	if n := leadingInt(pageID); n > 0 && n%gcInterval == 0 && h.gc != nil {
		h.gc()
	}
	return true
}

func (h *ContextHolder[C]) Has(pageID string) bool {
	_, ok := h.contexts[pageID]
	return ok
}

// Range calls fn for every instance context.
func (h *ContextHolder[C]) Range(fn func(pageID string, c C)) {
	for id, c := range h.contexts {
		fn(id, c)
	}
}

// Len returns the number of instance contexts.
func (h *ContextHolder[C]) Len() int { return len(h.contexts) }

// Clear releases every instance context and the global context.
func (h *ContextHolder[C]) Clear() {
	for id, c := range h.contexts {
		delete(h.contexts, id)
		if h.release != nil {
			h.release(c)
		}
	}
	if h.hasGlobal {
		if h.release != nil {
			h.release(h.global)
		}
		var zero C
		h.global, h.hasGlobal = zero, false
	}
}

// leadingInt parses the decimal prefix of s, like atoi.
func leadingInt(s string) int {
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<30 {
			return 0
		}
	}
	return n
}
