package netpolicy

import (
	"context"
	"net"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// Preference is the explicit address-family override for dual-stack resolution.
type Preference string

const (
	PreferenceAuto     Preference = "auto"
	PreferenceIPv6First Preference = "ipv6_first"
	PreferenceIPv4First Preference = "ipv4_first"
)

// IPv6StatsStore is the persistence seam for per-domain learning state,
// satisfied by internal/storage/badger.IPv6StatsStore.
type IPv6StatsStore interface {
	Get(domain string) models.DomainIPv6Stats
	Put(stats models.DomainIPv6Stats) error
}

// AttemptResult is the outcome of one Happy-Eyeballs connection attempt.
type AttemptResult struct {
	Addr          net.IP
	UsedIPv6      bool
	Switched      bool // true when the winning family was not the preferred primary
	SwitchSuccess bool // true when a switch occurred and it won
	AllFailed     bool
}

// IPv6Manager resolves dual-stack addresses, tries them in Happy-Eyeballs order, and
// learns per-domain success rates to auto-disable flaky IPv6 paths.
type IPv6Manager struct {
	logger            arbor.ILogger
	stats             IPv6StatsStore
	emaAlpha          float64
	minSamples        int
	learningThreshold float64
	raceDelay         time.Duration
	attemptTimeout    time.Duration
	globalPreferIPv6  bool
}

func NewIPv6Manager(logger arbor.ILogger, stats IPv6StatsStore, emaAlpha float64, minSamples int, learningThreshold float64, raceDelay, attemptTimeout time.Duration) *IPv6Manager {
	return &IPv6Manager{
		logger:            logger,
		stats:             stats,
		emaAlpha:          emaAlpha,
		minSamples:        minSamples,
		learningThreshold: learningThreshold,
		raceDelay:         raceDelay,
		attemptTimeout:    attemptTimeout,
		globalPreferIPv6:  true,
	}
}

// Resolve splits a hostname's addresses into ordered IPv6 and IPv4 lists.
func (m *IPv6Manager) Resolve(ctx context.Context, hostname string) (ipv6 []net.IP, ipv4 []net.IP, err error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			ipv4 = append(ipv4, a.IP)
		} else {
			ipv6 = append(ipv6, a.IP)
		}
	}
	return ipv6, ipv4, nil
}

// PreferredFamily decides which address family to try first for domain,
// applying domain-disabled, explicit override, then AUTO preference rules.
func (m *IPv6Manager) PreferredFamily(domain string, override Preference) (preferIPv6 bool) {
	stats := m.stats.Get(domain)
	if !stats.IPv6Enabled {
		return false
	}
	switch override {
	case PreferenceIPv6First:
		return true
	case PreferenceIPv4First:
		return false
	}
	if stats.IPv6Attempts < m.minSamples || stats.IPv4Attempts < m.minSamples {
		return m.globalPreferIPv6
	}
	if stats.IPv6EMA-stats.IPv4EMA >= 0.10 {
		return true
	}
	if stats.IPv4EMA-stats.IPv6EMA >= 0.10 {
		return false
	}
	return true // tie prefers IPv6
}

// Interleave builds the Happy-Eyeballs attempt order: primary[0], secondary[0], primary[1], ...
func Interleave(primary, secondary []net.IP) []net.IP {
	out := make([]net.IP, 0, len(primary)+len(secondary))
	for i := 0; i < len(primary) || i < len(secondary); i++ {
		if i < len(primary) {
			out = append(out, primary[i])
		}
		if i < len(secondary) {
			out = append(out, secondary[i])
		}
	}
	return out
}

// Attempt dials the interleaved address list one address at a time, each with
// attemptTimeout, and returns the first connection to succeed, recording
// learning stats.
func (m *IPv6Manager) Attempt(ctx context.Context, domain string, primaryIsIPv6 bool, ordered []net.IP, port string, dial func(ctx context.Context, network, address string) (net.Conn, error)) (net.Conn, AttemptResult, error) {
	var lastErr error
	for i, addr := range ordered {
		attemptCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
		network := "tcp4"
		isIPv6 := addr.To4() == nil
		if isIPv6 {
			network = "tcp6"
		}
		conn, err := dial(attemptCtx, network, net.JoinHostPort(addr.String(), port))
		cancel()
		if err == nil {
			switched := isIPv6 != primaryIsIPv6
			result := AttemptResult{Addr: addr, UsedIPv6: isIPv6, Switched: switched, SwitchSuccess: switched}
			m.recordAttempt(domain, isIPv6, true)
			if i > 0 {
				m.recordSwitch(domain, switched)
			}
			return conn, result, nil
		}
		lastErr = err
		m.recordAttempt(domain, isIPv6, false)
	}
	m.recordSwitch(domain, false)
	return nil, AttemptResult{AllFailed: true, Switched: true, SwitchSuccess: false}, lastErr
}

func (m *IPv6Manager) recordAttempt(domain string, isIPv6, success bool) {
	stats := m.stats.Get(domain)
	stats.Domain = domain
	now := time.Now()
	sample := 0.0
	if success {
		sample = 1.0
	}
	if isIPv6 {
		stats.IPv6Attempts++
		stats.IPv6EMA = ema(stats.IPv6EMA, sample, m.emaAlpha, stats.IPv6Attempts == 1)
		stats.LastIPv6AttemptAt = now
		if stats.IPv6Attempts >= m.minSamples && stats.IPv6EMA < m.learningThreshold {
			stats.IPv6Enabled = false
			m.logger.Warn().Str("domain", domain).Float64("ipv6_ema", stats.IPv6EMA).Msg("auto-disabling IPv6 for domain")
		}
	} else {
		stats.IPv4Attempts++
		stats.IPv4EMA = ema(stats.IPv4EMA, sample, m.emaAlpha, stats.IPv4Attempts == 1)
		stats.LastIPv4AttemptAt = now
	}
	stats.UpdatedAt = now
	if stats.IPv6Attempts == 1 && stats.IPv4Attempts == 0 {
		stats.IPv6Enabled = true
	}
	if err := m.stats.Put(stats); err != nil {
		m.logger.Warn().Err(err).Str("domain", domain).Msg("failed to persist IPv6 stats")
	}
}

func (m *IPv6Manager) recordSwitch(domain string, success bool) {
	stats := m.stats.Get(domain)
	stats.Domain = domain
	stats.SwitchCount++
	if success {
		stats.SwitchSuccessCount++
	}
	stats.UpdatedAt = time.Now()
	if err := m.stats.Put(stats); err != nil {
		m.logger.Warn().Err(err).Str("domain", domain).Msg("failed to persist IPv6 switch stats")
	}
}

// ema applies the standard exponential moving average update; the first
// sample seeds the EMA directly rather than blending against a zero prior.
func ema(prior, sample, alpha float64, isFirst bool) float64 {
	if isFirst {
		return sample
	}
	return alpha*sample + (1-alpha)*prior
}
