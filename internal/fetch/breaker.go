package fetch

import (
	"log/slog"
	"sync"
	"time"

	"pricewatch/internal/metrics"
)

// Breaker is a per-key circuit breaker. After threshold consecutive
// failures the key opens and further attempts short-circuit until the
// cooldown elapses. A success resets the key.
type Breaker struct {
	mu        sync.Mutex
	failures  map[string]int
	openUntil map[string]time.Time
	threshold int
	cooldown  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration, m *metrics.Metrics) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		failures:  make(map[string]int),
		openUntil: make(map[string]time.Time),
		threshold: threshold,
		cooldown:  cooldown,
		metrics:   m,
		now:       time.Now,
	}
}

// Allow reports whether a request for key may proceed. An expired open
// window is cleared on the way through (half-open: one attempt passes).
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, open := b.openUntil[key]
	if !open {
		return true
	}
	if b.now().Before(until) {
		return false
	}
	delete(b.openUntil, key)
	b.failures[key] = b.threshold - 1
	return true
}

// Failure records a failed attempt, opening the key when the threshold
// is reached.
func (b *Breaker) Failure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[key]++
	if b.failures[key] >= b.threshold {
		b.openUntil[key] = b.now().Add(b.cooldown)
		b.failures[key] = 0
		b.metrics.IncCircuitOpen()
		slog.Warn("circuit opened", "key", key, "cooldown", b.cooldown)
	}
}

// Success resets the key.
func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, key)
	delete(b.openUntil, key)
}
