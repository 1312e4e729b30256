package duel

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// pairKey is order independent.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// history remembers the last pairs shown to each user. Users that stay idle
// for longer than the ttl are forgotten.
type history struct {
	mu    sync.Mutex
	size  int
	users *expirable.LRU[string, []string]
}

func newHistory(users, size int, ttl time.Duration) *history {
	return &history{
		size:  size,
		users: expirable.NewLRU[string, []string](users, nil, ttl),
	}
}

// reserve runs choose against the user's recent pairs and appends the key it
// returns, all under one lock, so concurrent requests for the same user
// never pick the same fresh pair.
func (h *history) reserve(userID string, choose func(recent map[string]struct{}) string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys, _ := h.users.Get(userID)
	recent := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		recent[k] = struct{}{}
	}

	key := choose(recent)
	if drop := len(keys) + 1 - h.size; drop > 0 {
		keys = keys[drop:]
	}
	next := make([]string, 0, len(keys)+1)
	next = append(next, keys...)
	next = append(next, key)
	h.users.Add(userID, next)
}
