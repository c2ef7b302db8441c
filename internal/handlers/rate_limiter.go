package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter gates proof uploads and other abuse-prone endpoints. Keys are
// client UIDs for authenticated routes and remote addresses otherwise.
type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key inside a fixed window. Counts
// live in process memory, so multi-replica deployments enforce the limit per
// replica rather than globally.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]windowBucket
}

type windowBucket struct {
	count    int
	resetsAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetsAt) {
		l.buckets[key] = windowBucket{count: 1, resetsAt: now.Add(l.window)}
		l.dropStaleBuckets(now)
		return true
	}
	if bucket.count >= l.limit {
		return false
	}

	bucket.count++
	l.buckets[key] = bucket
	return true
}

// dropStaleBuckets runs under the mutex, piggybacking on new-window starts so
// the map does not grow with one entry per client forever.
func (l *fixedWindowLimiter) dropStaleBuckets(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetsAt) {
			delete(l.buckets, key)
		}
	}
}
