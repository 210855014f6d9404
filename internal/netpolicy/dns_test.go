package netpolicy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	data map[string][]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]string)} }

func (c *fakeCache) Get(hostname, route string, now time.Time) ([]string, bool) {
	v, ok := c.data[hostname+"|"+route]
	return v, ok
}

func (c *fakeCache) Set(hostname, route string, addrs []string, expiresAt time.Time) error {
	c.data[hostname+"|"+route] = addrs
	return nil
}

type fakeMetrics struct {
	leaks int
}

func (m *fakeMetrics) IncLocalResolutionDuringTor(string) { m.leaks++ }

func newTestPolicy() (*DNSPolicy, *fakeMetrics) {
	m := &fakeMetrics{}
	p := NewDNSPolicy(testLogger(), newFakeCache(), m, "127.0.0.1:9050", time.Minute, time.Hour)
	return p, m
}

func TestSelectProxyURL(t *testing.T) {
	p, _ := newTestPolicy()

	assert.Equal(t, "", p.SelectProxyURL(false, false))
	assert.Equal(t, "", p.SelectProxyURL(false, true))
	assert.Equal(t, "socks5h://127.0.0.1:9050", p.SelectProxyURL(true, true))
	assert.Equal(t, "socks5://127.0.0.1:9050", p.SelectProxyURL(true, false))
}

func TestAttemptLocalResolutionFlagsTorLeak(t *testing.T) {
	p, metrics := newTestPolicy()

	addrs, leaked := p.AttemptLocalResolution(context.Background(), "example.com", true)
	require.True(t, leaked)
	assert.Empty(t, addrs)
	assert.Equal(t, 1, metrics.leaks)
}

func TestAttemptLocalResolutionNonTorDoesNotLeak(t *testing.T) {
	p, metrics := newTestPolicy()

	_, leaked := p.AttemptLocalResolution(context.Background(), "localhost", false)
	assert.False(t, leaked)
	assert.Equal(t, 0, metrics.leaks)
}
