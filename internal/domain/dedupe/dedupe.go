// Package dedupe tracks idempotency keys (duel outcome ids, experience event
// ids) so that a retried submission is applied at most once.
package dedupe

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduper records seen ids to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed submission can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// keySet is the storage behind the deduper. Bounded sets evict the oldest key.
type keySet interface {
	Peek(key string) (struct{}, bool)
	Add(key string, value struct{}) bool
	Remove(key string) bool
	Len() int
}

type mapSet map[string]struct{}

func (m mapSet) Peek(key string) (struct{}, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapSet) Add(key string, _ struct{}) bool {
	m[key] = struct{}{}
	return false
}

func (m mapSet) Remove(key string) bool {
	_, ok := m[key]
	delete(m, key)
	return ok
}

func (m mapSet) Len() int { return len(m) }

type inMemoryDeduper struct {
	mu      sync.Mutex
	keys    keySet
	maxSize int           // <= 0 means unbounded
	ttl     time.Duration // > 0 expires keys, bounded mode only
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}

	switch {
	case d.maxSize <= 0:
		d.keys = mapSet{}
	case d.ttl > 0:
		d.keys = expirable.NewLRU[string, struct{}](d.maxSize, nil, d.ttl)
	default:
		c, err := lru.New[string, struct{}](d.maxSize)
		if err != nil {
			// only returned for a non-positive size
			d.keys = mapSet{}
			break
		}
		d.keys = c
	}
	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Peek does not refresh recency, so eviction stays oldest-first.
	if _, ok := d.keys.Peek(id); ok {
		return true
	}
	d.keys.Add(id, struct{}{})
	return false
}

// Unrecord removes id from the seen set.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys.Remove(id)
}

// Size returns the current number of tracked ids.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.keys.Len())
}
