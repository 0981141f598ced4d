// Package ratelimit provides the byte-rate token bucket that enforces the
// engine's global bandwidth limit. One limiter is shared by every running
// transfer, so the configured rate applies to all active I/O combined.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket where one token equals one byte.
// A rate of 0 means unlimited: WaitN returns immediately.
//
// The bucket capacity is one second's worth of tokens, so a freshly idle
// transfer may burst up to rate bytes before throttling kicks in.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens (bytes) per second, 0 = unlimited
	lastRefill time.Time
}

// NewLimiter creates a limiter at the given rate in bytes/sec.
// Pass 0 for an unlimited limiter.
func NewLimiter(bytesPerSec int64) *Limiter {
	l := &Limiter{lastRefill: time.Now()}
	l.configure(float64(bytesPerSec))
	return l
}

// Reconfigure changes the rate in place. Existing waiters pick up the new
// rate on their next refill check; tokens already accumulated are kept but
// clamped to the new capacity. Pass 0 to remove the limit.
func (l *Limiter) Reconfigure(bytesPerSec int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(float64(bytesPerSec))
}

func (l *Limiter) configure(rate float64) {
	l.refillRate = rate
	l.maxTokens = rate // one second of burst
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
}

// Rate returns the current rate in bytes/sec (0 = unlimited).
func (l *Limiter) Rate() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(l.refillRate)
}

// WaitN blocks until n bytes worth of tokens are available or ctx is done.
// Requests larger than the bucket capacity are granted in capacity-sized
// debits so a big chunk cannot starve forever.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	remaining := float64(n)
	for remaining > 0 {
		granted, wait := l.take(remaining)
		remaining -= granted
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// take refills the bucket, consumes up to want tokens, and returns how many
// were consumed plus how long to wait before trying again.
func (l *Limiter) take(want float64) (granted float64, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Unlimited: grant everything.
	if l.refillRate <= 0 {
		return want, 0
	}

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens > 0 {
		granted = l.tokens
		if granted > want {
			granted = want
		}
		l.tokens -= granted
		want -= granted
	}

	if want <= 0 {
		return granted, 0
	}

	// Wait for the smaller of the outstanding amount or a full bucket.
	need := want
	if need > l.maxTokens {
		need = l.maxTokens
	}
	secs := need / l.refillRate
	return granted, time.Duration(secs * float64(time.Second))
}
