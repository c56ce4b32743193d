// Package cache provides the bounded key/value caches used to short-circuit
// repeated image ingestion. Nothing stored here is a source of truth: every
// miss must be answerable from durable storage.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a string cache with bounded lifetime.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Memory is an in-process LRU with a per-entry TTL.
type Memory struct {
	lru *expirable.LRU[string, string]
}

// NewMemory creates a Memory cache holding at most size entries for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Get returns the cached value for key.
func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	return m.lru.Get(key)
}

// Set stores value under key, evicting the oldest entry when full.
func (m *Memory) Set(_ context.Context, key, value string) {
	m.lru.Add(key, value)
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Noop never hits. Useful to force the durable path.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) (string, bool) { return "", false }

// Set discards the value.
func (Noop) Set(context.Context, string, string) {}
