package netpolicy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/models"
)

type memStatsStore struct {
	byDomain map[string]models.DomainIPv6Stats
}

func newMemStatsStore() *memStatsStore {
	return &memStatsStore{byDomain: make(map[string]models.DomainIPv6Stats)}
}

func (s *memStatsStore) Get(domain string) models.DomainIPv6Stats {
	if v, ok := s.byDomain[domain]; ok {
		return v
	}
	return models.DomainIPv6Stats{Domain: domain, IPv6Enabled: true}
}

func (s *memStatsStore) Put(stats models.DomainIPv6Stats) error {
	s.byDomain[stats.Domain] = stats
	return nil
}

func TestInterleaveHappyEyeballs(t *testing.T) {
	primary := []net.IP{net.ParseIP("2001:db8::1"), net.ParseIP("2001:db8::2")}
	secondary := []net.IP{net.ParseIP("198.51.100.1")}

	got := Interleave(primary, secondary)
	require.Len(t, got, 3)
	assert.True(t, got[0].Equal(primary[0]))
	assert.True(t, got[1].Equal(secondary[0]))
	assert.True(t, got[2].Equal(primary[1]))
}

func TestIPv6AutoDisableAfterMinSamplesBelowThreshold(t *testing.T) {
	stats := newMemStatsStore()
	m := NewIPv6Manager(testLogger(), stats, 0.1, 5, 0.5, 0, time.Second)

	// Fail enough IPv6 attempts to push EMA below threshold after min_samples.
	for i := 0; i < 6; i++ {
		m.recordAttempt("slow-v6.example", true, false)
	}

	got := stats.Get("slow-v6.example")
	assert.False(t, got.IPv6Enabled, "expected IPv6 to be auto-disabled after repeated failures")
	assert.False(t, m.PreferredFamily("slow-v6.example", PreferenceAuto))
}

func TestIPv6PreferenceExplicitOverride(t *testing.T) {
	stats := newMemStatsStore()
	m := NewIPv6Manager(testLogger(), stats, 0.1, 5, 0.5, 0, time.Second)

	assert.True(t, m.PreferredFamily("anydomain.example", PreferenceIPv6First))
	assert.False(t, m.PreferredFamily("anydomain.example", PreferenceIPv4First))
}

func TestIPv6PreferenceBeforeMinSamplesDefaultsGlobal(t *testing.T) {
	stats := newMemStatsStore()
	m := NewIPv6Manager(testLogger(), stats, 0.1, 5, 0.5, 0, time.Second)

	assert.True(t, m.PreferredFamily("fresh.example", PreferenceAuto))
}
