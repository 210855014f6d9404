package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/challenge"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/session"
)

type fakeRateLimiter struct{}

func (fakeRateLimiter) Wait(ctx context.Context, domain string) error { return nil }

type noProxy struct{}

func (noProxy) SelectProxyURL(useTor, resolve bool) string { return "" }

type memSessionStore struct {
	sessions map[string]models.Session
}

func newMemSessionStore() *memSessionStore { return &memSessionStore{sessions: map[string]models.Session{}} }
func (s *memSessionStore) Put(sess models.Session) error {
	s.sessions[sess.RegistrableDomain] = sess
	return nil
}
func (s *memSessionStore) MostRecentForDomain(domain string, now time.Time) (models.Session, bool) {
	sess, ok := s.sessions[domain]
	if !ok || now.After(sess.ExpiresAt) {
		return models.Session{}, false
	}
	return sess, true
}
func (s *memSessionStore) InvalidateDomain(domain string) (int, error) {
	if _, ok := s.sessions[domain]; ok {
		delete(s.sessions, domain)
		return 1, nil
	}
	return 0, nil
}

func newFetcherForTest(t *testing.T, classifier ChallengeClassifier) (*HTTPFetcher, *session.Manager) {
	t.Helper()
	dir := t.TempDir()
	store := NewContentStore(dir+"/content", dir+"/archive")
	sessMgr := session.NewManager(common.NewTestLogger(), newMemSessionStore(), time.Hour)
	f := NewHTTPFetcher(common.NewTestLogger(), fakeRateLimiter{}, noProxy{}, sessMgr, classifier, store, nil, nil)
	return f, sessMgr
}

func TestFetchReturnsOKAndContentHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f, _ := newFetcherForTest(t, nil)
	res := f.Fetch(context.Background(), Request{URL: srv.URL})
	require.True(t, res.OK)
	assert.NotEmpty(t, res.ContentHash)
	assert.Equal(t, `"v1"`, res.ETag)
}

func TestConditionalRequestPrecedenceOverridesSession(t *testing.T) {
	var gotIfNoneMatch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIfNoneMatch = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f, sessions := newFetcherForTest(t, nil)
	require.NoError(t, sessions.Capture("sess-1", srv.URL, "ua", "en", `"v2"`, "", nil, time.Now()))

	res := f.Fetch(context.Background(), Request{URL: srv.URL, CachedETag: `"v1"`})
	require.True(t, res.OK)
	assert.True(t, res.FromCache)
	assert.Equal(t, `"v1"`, gotIfNoneMatch, "URL-specific conditional value must win over the session's ETag")
}

func TestChallengeDetectedShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html><head><title>Just a moment...</title></head><body><div id="cf-challenge-running">Checking your browser</div></body></html>`))
	}))
	defer srv.Close()

	f, _ := newFetcherForTest(t, challenge.NewDetector())
	res := f.Fetch(context.Background(), Request{URL: srv.URL})
	assert.False(t, res.OK)
	assert.Equal(t, "challenge_detected", res.Reason)
}

func TestEmptyErrorMessageIsRewritten(t *testing.T) {
	got := rewriteEmptyMessage(os.ErrClosed)
	assert.NotEmpty(t, got)
}
