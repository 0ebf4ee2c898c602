// Package ratelimit provides per-caller token-bucket rate limiting sized by plan tier.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class names the bucket sizing applied to a caller.
type Class string

const (
	ClassAnonymous Class = "anonymous" // unauthenticated callers, keyed by IP
	ClassFree      Class = "free"
	ClassDevotee   Class = "devotee"
	ClassGuru      Class = "guru"
	ClassContact   Class = "contact" // public contact form, keyed by IP
	ClassAdminAuth Class = "admin_auth"
)

// Rule is a token-bucket size.
type Rule struct {
	RPS   float64
	Burst int
}

// Config defines the rate limiting configuration.
type Config struct {
	Anonymous       Rule
	Free            Rule
	Devotee         Rule
	Guru            Rule
	Contact         Rule
	AdminAuth       Rule
	CleanupInterval time.Duration // How often to clean up idle limiters
}

// DefaultConfig provides sensible defaults for rate limiting.
var DefaultConfig = Config{
	Anonymous:       Rule{RPS: 2, Burst: 10},
	Free:            Rule{RPS: 5, Burst: 20},
	Devotee:         Rule{RPS: 20, Burst: 60},
	Guru:            Rule{RPS: 50, Burst: 200},
	Contact:         Rule{RPS: 5.0 / 3600.0, Burst: 5}, // 5 per hour
	AdminAuth:       Rule{RPS: 1.0 / 60.0, Burst: 5},   // 1 per minute after 5
	CleanupInterval: time.Hour,
}

// RuleFor returns the bucket size for a class. Unknown classes use Anonymous.
func (c Config) RuleFor(class Class) Rule {
	switch class {
	case ClassFree:
		return c.Free
	case ClassDevotee:
		return c.Devotee
	case ClassGuru:
		return c.Guru
	case ClassContact:
		return c.Contact
	case ClassAdminAuth:
		return c.AdminAuth
	default:
		return c.Anonymous
	}
}

type bucket struct {
	*rate.Limiter
	class    Class // a class change replaces the bucket
	lastUsed time.Time
}

// RateLimiter keeps one token bucket per caller key. Idle buckets are
// dropped by a background sweep every CleanupInterval.
type RateLimiter struct {
	config Config

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter starts the sweep goroutine. Call Stop to end it.
func NewRateLimiter(config Config) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string, class Class) bool {
	return rl.GetLimiter(key, class).Allow()
}

// GetLimiter returns key's bucket, creating it on first use. A caller whose
// class changed, e.g. after upgrading to guru, gets a fresh bucket sized for
// the new class.
func (rl *RateLimiter) GetLimiter(key string, class Class) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || b.class != class {
		rule := rl.config.RuleFor(class)
		b = &bucket{Limiter: rate.NewLimiter(rate.Limit(rule.RPS), rule.Burst), class: class}
		rl.buckets[key] = b
	}
	b.lastUsed = now
	return b.Limiter
}

// Cleanup drops buckets idle for longer than CleanupInterval.
func (rl *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) sweep() {
	defer close(rl.done)
	t := time.NewTicker(rl.config.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the sweep and waits for it. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

// Len is the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
