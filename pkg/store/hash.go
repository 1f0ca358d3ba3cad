package store

import (
	"sync"
)

// HashStore is an in-memory Store with a fixed capacity, the userspace
// counterpart of a BPF_MAP_TYPE_HASH map.
type HashStore[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]V
	maxEntries int
}

// NewHashStore creates a store that holds at most maxEntries keys.
func NewHashStore[K comparable, V any](maxEntries int) *HashStore[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &HashStore[K, V]{
		items:      make(map[K]V),
		maxEntries: maxEntries,
	}
}

// Lookup returns the value stored under key.
func (h *HashStore[K, V]) Lookup(key K) (V, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.items[key]
	return v, ok
}

// Insert stores value under key if absent.
func (h *HashStore[K, V]) Insert(key K, value V) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.items[key]; exists {
		return ErrKeyExists
	}
	if len(h.items) >= h.maxEntries {
		return ErrFull
	}
	h.items[key] = value
	return nil
}

// Delete removes key.
func (h *HashStore[K, V]) Delete(key K) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.items[key]; !exists {
		return ErrNotFound
	}
	delete(h.items, key)
	return nil
}

// Range calls fn on a point-in-time copy of the entries, so fn may call back
// into the store.
func (h *HashStore[K, V]) Range(fn func(key K, value V) bool) {
	h.mu.RLock()
	keys := make([]K, 0, len(h.items))
	values := make([]V, 0, len(h.items))
	for k, v := range h.items {
		keys = append(keys, k)
		values = append(values, v)
	}
	h.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}

// Len returns the number of entries.
func (h *HashStore[K, V]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// MaxEntries returns the capacity.
func (h *HashStore[K, V]) MaxEntries() int {
	return h.maxEntries
}
