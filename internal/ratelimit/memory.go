package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Sweep cadence for idle keys. The token exchange sees a small set of
// operator IPs, so a bucket idle this long belongs to a client that went
// away and can be dropped to bound memory.
const (
	sweepEvery = time.Minute
	idleTTL    = 10 * time.Minute
)

// entry is one key's bucket state.
type entry struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter is a per-key token bucket held in process memory. It covers
// the single-instance deployment this server targets; a multi-instance
// deployment substitutes a shared-store Limiter behind the same interface.
type MemoryLimiter struct {
	rate  float64 // sustained tokens per second
	burst float64 // bucket capacity
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate requests per second per
// key, with bursts up to burst. A background sweeper drops idle keys; Close
// stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from key's bucket, first refilling it for the time
// elapsed since the key's previous request. A new key starts with a full
// bucket. Allow never returns an error.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{tokens: m.burst, seen: now}
		m.entries[key] = e
	} else {
		e.tokens = min(m.burst, e.tokens+now.Sub(e.seen).Seconds()*m.rate)
		e.seen = now
	}

	if e.tokens < 1 {
		return false, nil
	}
	e.tokens--
	return true, nil
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.dropIdle()
		}
	}
}

// dropIdle removes keys whose last request is older than idleTTL.
func (m *MemoryLimiter) dropIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idleTTL)
	for key, e := range m.entries {
		if e.seen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
