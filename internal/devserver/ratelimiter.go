package devserver

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// RateLimiter caps how many messages one member may post to a room within a
// sliding window. Keys are dropped once their window drains, so the map only
// holds members who posted recently.
type RateLimiter struct {
	mu     sync.Mutex
	recent map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		recent: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether key may post now and records the post if so. A
// limit of zero or less disables limiting.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep(now)
	posts := r.recent[key]
	if len(posts) >= r.limit {
		return false
	}
	r.recent[key] = append(posts, now)
	return true
}

// Forget drops key, e.g. when its member has left the room for good.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recent, key)
}

// sweep trims every key to the current window. Runs with r.mu held.
func (r *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-r.window)
	for key, posts := range r.recent {
		live := lo.DropWhile(posts, func(ts time.Time) bool { return !ts.After(cutoff) })
		if len(live) == 0 {
			delete(r.recent, key)
			continue
		}
		r.recent[key] = live
	}
}
