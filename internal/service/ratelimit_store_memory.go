package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

// MemoryBucketStore keeps buckets in process. A single mutex serializes every update.
type MemoryBucketStore struct {
	mu       sync.Mutex
	buckets  map[string]memoryBucket
	now      func() time.Time
	interval time.Duration

	stopOnce sync.Once
	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

type memoryBucket struct {
	bucket    domain.RateLimitBucket
	expiresAt time.Time
}

func NewMemoryBucketStore(cleanupInterval time.Duration, now func() time.Time) *MemoryBucketStore {
	if now == nil {
		now = time.Now
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryBucketStore{
		buckets:  make(map[string]memoryBucket),
		now:      now,
		interval: cleanupInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *MemoryBucketStore) Update(_ context.Context, key string, ttl time.Duration, fn func(domain.RateLimitBucket, bool) domain.RateLimitBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, found := s.buckets[key]
	if found && !now.Before(cur.expiresAt) {
		found = false
	}
	next := fn(cur.bucket, found)
	s.buckets[key] = memoryBucket{bucket: next, expiresAt: now.Add(ttl)}
	return nil
}

// Start runs the idle-bucket cleanup loop until ctx ends or Stop is called.
func (s *MemoryBucketStore) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// Stop ends the cleanup loop and waits for it to exit. It is safe to call more than once and
// before Start.
func (s *MemoryBucketStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *MemoryBucketStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, b := range s.buckets {
		if !now.Before(b.expiresAt) {
			delete(s.buckets, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
