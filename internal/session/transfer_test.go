package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
)

type memStore struct {
	byDomain map[string]models.Session
}

func newMemStore() *memStore { return &memStore{byDomain: make(map[string]models.Session)} }

func (s *memStore) Put(sess models.Session) error {
	s.byDomain[sess.RegistrableDomain] = sess
	return nil
}

func (s *memStore) MostRecentForDomain(domain string, now time.Time) (models.Session, bool) {
	sess, ok := s.byDomain[domain]
	if !ok || (!sess.ExpiresAt.IsZero() && now.After(sess.ExpiresAt)) {
		return models.Session{}, false
	}
	return sess, true
}

func (s *memStore) InvalidateDomain(domain string) (int, error) {
	if _, ok := s.byDomain[domain]; ok {
		delete(s.byDomain, domain)
		return 1, nil
	}
	return 0, nil
}

func TestCrossSiteCookieRejection(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(common.NewTestLogger(), store, time.Hour)
	now := time.Now()

	require.NoError(t, mgr.Capture("sess-1", "https://example.com/page", "UA/1", "en-US", "", "", []models.Cookie{{Name: "sid", Value: "abc"}}, now))

	result := mgr.Synthesize("https://malicious.com/evil", SynthesisOptions{}, now)
	assert.False(t, result.OK)
	assert.Equal(t, "domain_mismatch", result.Reason)
	assert.Empty(t, result.Cookie)
}

func TestCrossSiteCookieRejectionLookalikeDomain(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(common.NewTestLogger(), store, time.Hour)
	now := time.Now()

	require.NoError(t, mgr.Capture("sess-1", "https://example.com/page", "UA/1", "en-US", "", "", []models.Cookie{{Name: "sid", Value: "abc"}}, now))

	result := mgr.Synthesize("https://example.com.evil.com/phish", SynthesisOptions{}, now)
	assert.False(t, result.OK)
	assert.Equal(t, "domain_mismatch", result.Reason)
}

func TestSynthesizeMatchingDomainEmitsCookieAndConditionalHeaders(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(common.NewTestLogger(), store, time.Hour)
	now := time.Now()

	require.NoError(t, mgr.Capture("sess-1", "https://example.com/page", "UA/1", "en-US", "v2", "Tue, 01 Jan 2030", []models.Cookie{{Name: "sid", Value: "abc"}}, now))

	result := mgr.Synthesize("https://example.com/other", SynthesisOptions{IncludeConditional: true}, now)
	require.True(t, result.OK)
	assert.Equal(t, "sid=abc", result.Cookie)
	assert.Equal(t, "v2", result.IfNoneMatch)
}

func TestSynthesizeExpiredSessionRejected(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(common.NewTestLogger(), store, time.Millisecond)
	now := time.Now()

	require.NoError(t, mgr.Capture("sess-1", "https://example.com/page", "UA/1", "en-US", "", "", nil, now))

	result := mgr.Synthesize("https://example.com/other", SynthesisOptions{}, now.Add(time.Hour))
	assert.False(t, result.OK)
}
