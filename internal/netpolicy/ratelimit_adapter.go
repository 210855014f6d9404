package netpolicy

import "github.com/ternarybob/lancet/internal/ratelimit"

// RateLimitAdapter adapts a PolicyLookup to ratelimit.PolicySource, since the
// rate limiter only cares about interval and jitter, not Tor/IPv6 routing.
type RateLimitAdapter struct {
	Lookup PolicyLookup
}

func (a RateLimitAdapter) RatePolicy(domain string) ratelimit.Policy {
	p := a.Lookup.Get(domain)
	return ratelimit.Policy{MinInterval: p.MinInterval, Jitter: p.Jitter}
}
