package goodhome

import (
	"net/http"
	"sync"
)

// DevicesKey is the cache key of a user's device list
func DevicesKey(userID string) string {
	return "devices_" + userID
}

// DeviceKey is the cache key of a single device
func DeviceKey(deviceID string) string {
	return "device_" + deviceID
}

// Validator holds the conditional request headers for a cached resource
type Validator struct {
	ETag         string
	LastModified string
}

// Empty reports whether there is nothing to send
func (v Validator) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Apply sets If-None-Match / If-Modified-Since on h
func (v Validator) Apply(h http.Header) {
	if v.ETag != "" {
		h.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		h.Set("If-Modified-Since", v.LastModified)
	}
}

// merge keeps previous values for headers the response omitted
func (v Validator) merge(h http.Header) Validator {
	if etag := h.Get("ETag"); etag != "" {
		v.ETag = etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		v.LastModified = lm
	}
	return v
}

// Entry is one cached response
type Entry[T any] struct {
	Validator Validator
	Snapshot  T
	hasValue  bool
}

// Cache maps resource keys to the last response and its validators.
// Snapshots handed out are shared and must be treated as read-only.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]Entry[T]
}

// NewCache creates an empty cache
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]Entry[T])}
}

// Read returns the snapshot stored under key
func (c *Cache[T]) Read(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		var zero T
		return zero, false
	}
	return e.Snapshot, true
}

// Validator returns the validators stored under key, if any
func (c *Cache[T]) Validator(key string) Validator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key].Validator
}

// Remember stores snapshot with its validators. Last write wins.
func (c *Cache[T]) Remember(key string, v Validator, snapshot T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[T]{Validator: v, Snapshot: snapshot, hasValue: true}
}

// Invalidate drops the entry and validators for key
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every entry
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[T])
}

// Len returns the number of cached entries
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
