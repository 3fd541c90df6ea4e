package admission

import (
	"sync"
	"time"
)

// Limit describes a token bucket policy: the bucket holds at most Capacity
// tokens and earns RefillTokens tokens per RefillPeriod, accrued
// continuously rather than at period boundaries.
type Limit struct {
	Capacity     int
	RefillTokens int
	RefillPeriod time.Duration
}

// TokenBucket is a single-key token bucket with greedy refill. All state
// transitions happen under one mutex so that two concurrent callers can
// never observe and spend the same tokens.
type TokenBucket struct {
	mu sync.Mutex

	limit      Limit
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time

	now func() time.Time
}

// NewTokenBucket creates a full bucket for the given limit.
func NewTokenBucket(limit Limit, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &TokenBucket{
		limit:      limit,
		tokens:     float64(limit.Capacity),
		lastRefill: t,
		lastAccess: t,
		now:        now,
	}
}

// TryConsume refills the bucket for the time elapsed since the last call and
// then attempts to take n tokens. It either takes all n or none.
func (b *TokenBucket) TryConsume(n int) bool {
	ok, _ := b.Consume(n)
	return ok
}

// Consume is TryConsume plus the post-consume balance. Both come from the
// same critical section, so under concurrent traffic the reported balance is
// exactly what this call left behind.
func (b *TokenBucket) Consume(n int) (ok bool, remaining float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < float64(n) {
		return false, b.tokens
	}
	b.tokens -= float64(n)
	return true, b.tokens
}

// Available reports the token balance after applying pending refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// RetryAfter reports how long until n tokens will be available, assuming no
// further consumption. Zero when n tokens are available now; when n exceeds
// capacity no wait will ever suffice and the refill period is returned as
// the caller's best hint.
func (b *TokenBucket) RetryAfter(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	missing := float64(n) - b.tokens
	if missing <= 0 {
		return 0
	}
	if n > b.limit.Capacity {
		return b.limit.RefillPeriod
	}
	perToken := float64(b.limit.RefillPeriod) / float64(b.limit.RefillTokens)
	return time.Duration(missing * perToken)
}

// IdleFor reports how long ago the bucket was last touched by a consumer.
func (b *TokenBucket) IdleFor(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := now.Sub(b.lastAccess)
	if d < 0 {
		d = 0
	}
	return d
}

// refill accrues tokens for the wall-clock time since the last accrual.
// Elapsed time is clamped at zero so a backward clock jump cannot mint
// tokens. Callers must hold b.mu.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}

	accrued := elapsed.Seconds() * float64(b.limit.RefillTokens) / b.limit.RefillPeriod.Seconds()
	b.tokens += accrued
	if b.tokens > float64(b.limit.Capacity) {
		b.tokens = float64(b.limit.Capacity)
	}
	b.lastRefill = now
	b.lastAccess = now
}
