package admission

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/log"
)

const sweepInterval = time.Minute

// Decision is the outcome of a rate-limit check. Over-quota is an expected
// outcome, so it is reported as a value rather than an error.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Registry maps a limiter class name ("public", "contact", "admin") and a
// client key to a TokenBucket, creating buckets on first access and
// reclaiming idle ones so a long-running process serving many distinct IPs
// stays bounded.
//
// The registry map is guarded by an RWMutex; each bucket carries its own
// mutex, so unrelated clients never serialize on each other's consume.
type Registry struct {
	mu      sync.RWMutex
	limits  map[string]Limit
	buckets map[string]map[string]*TokenBucket // class → client key → bucket

	idleHorizon map[string]time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock injects the clock used for refill and idle sweeps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIdleHorizon overrides the idle-eviction horizon for one limiter
// class. The default is twice the class refill period.
func WithIdleHorizon(class string, horizon time.Duration) RegistryOption {
	return func(r *Registry) { r.idleHorizon[class] = horizon }
}

// NewRegistry creates a registry for a fixed set of limiter classes. The
// class set is wiring-time configuration; requests can only name classes
// registered here.
func NewRegistry(limits map[string]Limit, opts ...RegistryOption) *Registry {
	r := &Registry{
		limits:      make(map[string]Limit, len(limits)),
		buckets:     make(map[string]map[string]*TokenBucket, len(limits)),
		idleHorizon: make(map[string]time.Duration, len(limits)),
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	for name, limit := range limits {
		if limit.Capacity < 1 || limit.RefillTokens < 1 || limit.RefillPeriod <= 0 {
			panic(fmt.Sprintf("admission: invalid limit for class %q: %+v", name, limit))
		}
		r.limits[name] = limit
		r.buckets[name] = make(map[string]*TokenBucket)
		r.idleHorizon[name] = 2 * limit.RefillPeriod
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.sweepLoop()
	return r
}

// Check consumes one token from the bucket for (class, clientKey), creating
// the bucket on first access. An unknown class is a wiring bug, not a
// request-time condition, and panics.
func (r *Registry) Check(class, clientKey string) Decision {
	bucket := r.bucketFor(class, clientKey)
	if ok, remaining := bucket.Consume(1); ok {
		return Decision{
			Allowed:   true,
			Remaining: int64(remaining),
		}
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: bucket.RetryAfter(1),
	}
}

// Limit returns the configured policy for a class; panics on unknown class.
func (r *Registry) Limit(class string) Limit {
	limit, ok := r.limits[class]
	if !ok {
		panic(fmt.Sprintf("admission: unknown limiter class %q", class))
	}
	return limit
}

// Close stops the background sweep.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) bucketFor(class, clientKey string) *TokenBucket {
	r.mu.RLock()
	perClass, ok := r.buckets[class]
	if !ok {
		r.mu.RUnlock()
		panic(fmt.Sprintf("admission: unknown limiter class %q", class))
	}
	bucket := perClass[clientKey]
	r.mu.RUnlock()
	if bucket != nil {
		return bucket
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket = r.buckets[class][clientKey]; bucket != nil {
		return bucket
	}
	bucket = NewTokenBucket(r.limits[class], r.now)
	r.buckets[class][clientKey] = bucket
	return bucket
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(r.now())
		}
	}
}

// sweep drops buckets idle past their class horizon.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for class, perClass := range r.buckets {
		horizon := r.idleHorizon[class]
		for key, bucket := range perClass {
			if bucket.IdleFor(now) > horizon {
				delete(perClass, key)
				evicted++
			}
		}
	}
	if evicted > 0 {
		log.Logger().Debug("evicted idle rate-limit buckets", zap.Int("count", evicted))
	}
}
