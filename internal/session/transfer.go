// Package session implements browser-to-HTTP session capture, lookup, and
// header synthesis with strict same-registrable-domain enforcement.
package session

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/netutil"
)

// Store is the persistence seam, satisfied by internal/storage/badger.SessionStore.
type Store interface {
	Put(sess models.Session) error
	MostRecentForDomain(registrableDomain string, now time.Time) (models.Session, bool)
	InvalidateDomain(registrableDomain string) (int, error)
}

// SynthesisOptions gates optional conditional-request headers.
type SynthesisOptions struct {
	IncludeConditional bool
	UserInitiated      bool
}

// SynthesisResult is the header set a fetcher may merge into its request,
// or a rejection reason when no applicable session exists.
type SynthesisResult struct {
	OK              bool
	Reason          string
	Cookie          string
	UserAgent       string
	AcceptLanguage  string
	IfNoneMatch     string
	IfModifiedSince string
	Referer         string
	SecFetch        netutil.SecFetchHeaders
}

// Manager captures and looks up sessions.
type Manager struct {
	logger    arbor.ILogger
	store     Store
	sessionTTL time.Duration
}

func NewManager(logger arbor.ILogger, store Store, sessionTTL time.Duration) *Manager {
	return &Manager{logger: logger, store: store, sessionTTL: sessionTTL}
}

// Capture stores a session observed after a successful browser navigation.
func (m *Manager) Capture(sessionID, navigatedURL, userAgent, acceptLanguage, etag, lastModified string, cookies []models.Cookie, now time.Time) error {
	domain := netutil.RegistrableDomain(navigatedURL)
	if domain == "" {
		return nil // nothing to capture without a usable domain
	}
	sess := models.Session{
		SessionID:         sessionID,
		RegistrableDomain: domain,
		Cookies:           cookies,
		UserAgent:         userAgent,
		AcceptLanguage:    acceptLanguage,
		ETag:              etag,
		LastModified:      lastModified,
		LastURL:           navigatedURL,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.sessionTTL),
	}
	if err := m.store.Put(sess); err != nil {
		return err
	}
	m.logger.Debug().Str("domain", domain).Str("session_id", sessionID).Msg("captured session")
	return nil
}

// Synthesize looks up a session applicable to candidateURL and, if one
// exists and its registrable domain matches, emits transfer headers. A
// session for a different registrable domain — including lookalikes such as
// "example.com.evil.com" — is always rejected with reason "domain_mismatch"
// and never leaks cookies.
func (m *Manager) Synthesize(candidateURL string, opts SynthesisOptions, now time.Time) SynthesisResult {
	domain := netutil.RegistrableDomain(candidateURL)
	if domain == "" {
		return SynthesisResult{OK: false, Reason: "domain_mismatch"}
	}

	sess, ok := m.store.MostRecentForDomain(domain, now)
	if !ok {
		return SynthesisResult{OK: false, Reason: "domain_mismatch"}
	}
	if netutil.RegistrableDomain(sess.LastURL) != domain && sess.RegistrableDomain != domain {
		return SynthesisResult{OK: false, Reason: "domain_mismatch"}
	}

	result := SynthesisResult{
		OK:             true,
		Cookie:         cookieHeader(sess.Cookies),
		UserAgent:      sess.UserAgent,
		AcceptLanguage: sess.AcceptLanguage,
	}
	if opts.IncludeConditional {
		result.IfNoneMatch = sess.ETag
		result.IfModifiedSince = sess.LastModified
	}
	if sess.LastURL != "" && netutil.ClassifySite(candidateURL, sess.LastURL) != netutil.SiteCrossSite {
		result.Referer = sess.LastURL
	}
	result.SecFetch = netutil.ComputeSecFetchHeaders(netutil.NavigationContext{
		TargetURL:     candidateURL,
		RefererURL:    result.Referer,
		UserInitiated: opts.UserInitiated,
		Destination:   netutil.DestDocument,
	})
	return result
}

// InvalidateDomain bulk-removes every session for the given registrable domain.
func (m *Manager) InvalidateDomain(registrableDomain string) (int, error) {
	return m.store.InvalidateDomain(registrableDomain)
}

func cookieHeader(cookies []models.Cookie) string {
	s := ""
	for i, c := range cookies {
		if i > 0 {
			s += "; "
		}
		s += c.Name + "=" + c.Value
	}
	return s
}
