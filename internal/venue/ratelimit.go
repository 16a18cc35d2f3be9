// ratelimit.go implements token-bucket request pacing for venue adapters.
//
// Every adapter owns one bucket and calls Wait before each HTTP request, so
// concurrent strategies and control-plane handlers sharing an adapter never
// exceed the venue's documented request rate. The bucket refills continuously
// rather than in window-sized bursts.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a token-bucket rate limiter with continuous refill.
// Callers block in Wait until a token is available or the context is
// cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// Published venue request rates. Buckets are sized for a small burst with
// refill matching the venue's sustained limit.
func newTradeOgrePacer() *TokenBucket { return NewTokenBucket(5, 1) }   // 1 req/s
func newKrakenPacer() *TokenBucket    { return NewTokenBucket(15, 1) }  // tier-2 counter decay
func newBinancePacer() *TokenBucket   { return NewTokenBucket(50, 20) } // 1200 weight/min
