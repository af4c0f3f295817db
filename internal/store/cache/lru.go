package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize is the default number of entries of the in-process cache
const DefaultSize = 1024

// LRU is an in-process Backend with a fixed capacity and a single TTL for
// every entry.
type LRU struct {
	entries *expirable.LRU[string, []byte]
}

var _ Backend = (*LRU)(nil)

// NewLRU creates an in-process backend holding at most size entries for ttl
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{entries: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get implements Backend
func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.entries.Get(key)
	return v, ok, nil
}

// Set implements Backend. The per-call ttl is ignored; entries expire after
// the TTL the LRU was created with.
func (l *LRU) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	l.entries.Add(key, value)
	return nil
}

// Len returns the number of cached entries
func (l *LRU) Len() int {
	return l.entries.Len()
}

// Name implements Backend
func (*LRU) Name() string {
	return "memory"
}
