// Package ratelimit implements a per-domain minimum-interval gate with
// jitter.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is the per-domain interval + jitter the limiter consults, satisfied
// by internal/netpolicy.PolicyLookup via an adapter in the caller.
type Policy struct {
	MinInterval time.Duration
	Jitter      time.Duration
}

// PolicySource supplies per-domain rate policy.
type PolicySource interface {
	RatePolicy(domain string) Policy
}

// Limiter gates requests to a minimum per-domain interval, with each wait
// randomly extended by up to Jitter to avoid synchronized request bursts.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	source   PolicySource
	fallback Policy
}

func NewLimiter(source PolicySource, fallback Policy) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		source:   source,
		fallback: fallback,
	}
}

func (l *Limiter) policyFor(domain string) Policy {
	if l.source == nil {
		return l.fallback
	}
	return l.source.RatePolicy(domain)
}

func (l *Limiter) bucketFor(domain string, policy Policy) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[domain]
	if !ok {
		interval := policy.MinInterval
		if interval <= 0 {
			interval = time.Second
		}
		b = rate.NewLimiter(rate.Every(interval), 1)
		l.buckets[domain] = b
	}
	return b
}

// Wait blocks until domain's rate-limit token is available, plus a random
// jitter envelope drawn from the domain's policy.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	policy := l.policyFor(domain)
	bucket := l.bucketFor(domain, policy)

	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	if policy.Jitter <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(policy.Jitter)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
