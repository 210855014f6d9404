// Package netpolicy implements DNS route selection with Tor leak prevention
// and the IPv6 Happy-Eyeballs dialer with per-domain learning.
package netpolicy

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
)

// Route distinguishes the cache namespace for resolution results.
type Route string

const (
	RouteDirect Route = "direct"
)

// DNSCache is the persistence seam for direct-route resolution results,
// satisfied by internal/storage/badger.DNSCacheStore.
type DNSCache interface {
	Get(hostname, route string, now time.Time) ([]string, bool)
	Set(hostname, route string, addrs []string, expiresAt time.Time) error
}

// LeakMetrics records Tor-leak detections for observability.
type LeakMetrics interface {
	IncLocalResolutionDuringTor(hostname string)
}

// noopMetrics discards leak counters when the caller doesn't supply a sink.
type noopMetrics struct{}

func (noopMetrics) IncLocalResolutionDuringTor(string) {}

// LeakCounter is the production LeakMetrics sink: an atomic counter that
// also logs each leak attempt, since a Tor DNS leak is always worth a line
// in the logs rather than a silently incrementing number.
type LeakCounter struct {
	logger arbor.ILogger
	count  atomic.Int64
}

func NewLeakCounter(logger arbor.ILogger) *LeakCounter {
	return &LeakCounter{logger: logger}
}

func (c *LeakCounter) IncLocalResolutionDuringTor(hostname string) {
	n := c.count.Add(1)
	c.logger.Warn().Str("hostname", hostname).Int64("total_leak_attempts", n).Msg("blocked local DNS resolution attempt for Tor-routed host")
}

// Count reports how many local-resolution-during-Tor attempts have been blocked.
func (c *LeakCounter) Count() int64 {
	return c.count.Load()
}

// DNSPolicy selects proxy URLs and resolves hostnames while preventing Tor DNS leaks.
type DNSPolicy struct {
	logger       arbor.ILogger
	cache        DNSCache
	metrics      LeakMetrics
	torProxyAddr string
	minCacheTTL  time.Duration
	maxCacheTTL  time.Duration
}

// NewDNSPolicy constructs a DNSPolicy. metrics may be nil to discard leak counters.
func NewDNSPolicy(logger arbor.ILogger, cache DNSCache, metrics LeakMetrics, torProxyAddr string, minCacheTTL, maxCacheTTL time.Duration) *DNSPolicy {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &DNSPolicy{
		logger:       logger,
		cache:        cache,
		metrics:      metrics,
		torProxyAddr: torProxyAddr,
		minCacheTTL:  minCacheTTL,
		maxCacheTTL:  maxCacheTTL,
	}
}

// SelectProxyURL chooses the proxy URL form for a request.
// useTor=false always returns "" (no proxy). useTor=true + resolveDNSThroughProxy=true
// returns the safe socks5h form (hostname-at-proxy). useTor=true + resolveDNSThroughProxy=false
// returns the documented-unsafe socks5 form, only ever reached via explicit override.
func (p *DNSPolicy) SelectProxyURL(useTor, resolveDNSThroughProxy bool) string {
	if !useTor {
		return ""
	}
	if resolveDNSThroughProxy {
		return fmt.Sprintf("socks5h://%s", p.torProxyAddr)
	}
	return fmt.Sprintf("socks5://%s", p.torProxyAddr)
}

// AttemptLocalResolution performs a local getaddrinfo-style lookup for hostname.
// When useTor is true this call itself constitutes a DNS leak: the function
// flags the leak via metrics and returns an empty address list without ever
// contacting the system resolver, so no packet actually escapes the Tor path.
func (p *DNSPolicy) AttemptLocalResolution(ctx context.Context, hostname string, useTor bool) ([]string, bool) {
	if useTor {
		p.metrics.IncLocalResolutionDuringTor(hostname)
		p.logger.Warn().Str("hostname", hostname).Msg("refused local DNS resolution for Tor-routed host")
		return nil, true
	}

	if cached, ok := p.cache.Get(hostname, string(RouteDirect), time.Now()); ok {
		return cached, false
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, hostname)
	if err != nil {
		p.logger.Debug().Err(err).Str("hostname", hostname).Msg("direct DNS resolution failed")
		return nil, false
	}

	ttl := p.clampTTL(p.maxCacheTTL)
	if err := p.cache.Set(hostname, string(RouteDirect), addrs, time.Now().Add(ttl)); err != nil {
		p.logger.Warn().Err(err).Str("hostname", hostname).Msg("failed to cache DNS resolution")
	}
	return addrs, false
}

func (p *DNSPolicy) clampTTL(ttl time.Duration) time.Duration {
	if p.minCacheTTL > 0 && ttl < p.minCacheTTL {
		return p.minCacheTTL
	}
	if p.maxCacheTTL > 0 && ttl > p.maxCacheTTL {
		return p.maxCacheTTL
	}
	return ttl
}
