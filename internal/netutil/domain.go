// Package netutil holds registrable-domain and same-site/same-origin helpers
// shared by session transfer, the fetch pipeline, and Sec-Fetch header synthesis.
package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the public suffix + one label for a URL's host
// (e.g. "example.co.jp"), correctly handling multi-part suffixes. Returns ""
// on parse failure or an empty host.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return RegistrableDomainFromHost(u.Hostname())
}

// RegistrableDomainFromHost applies the same extraction directly to a hostname.
func RegistrableDomainFromHost(host string) string {
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		// IPs have no public suffix; treat the host itself as its own
		// registrable domain.
		return strings.ToLower(host)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	if err != nil {
		// Single-label hosts (e.g. "localhost") have no public suffix either.
		return strings.ToLower(host)
	}
	return domain
}

// SiteRelation is the closed Sec-Fetch-Site taxonomy.
type SiteRelation string

const (
	SiteNone      SiteRelation = "none"
	SiteSameOrigin SiteRelation = "same-origin"
	SiteSameSite  SiteRelation = "same-site"
	SiteCrossSite SiteRelation = "cross-site"
)

// ClassifySite computes the Sec-Fetch-Site relation between a target URL and
// an optional referer URL
func ClassifySite(targetURL, refererURL string) SiteRelation {
	if refererURL == "" {
		return SiteNone
	}
	t, errT := url.Parse(targetURL)
	r, errR := url.Parse(refererURL)
	if errT != nil || errR != nil {
		return SiteCrossSite
	}
	if t.Scheme == r.Scheme && t.Host == r.Host {
		return SiteSameOrigin
	}
	if RegistrableDomainFromHost(t.Hostname()) == RegistrableDomainFromHost(r.Hostname()) &&
		RegistrableDomainFromHost(t.Hostname()) != "" {
		return SiteSameSite
	}
	return SiteCrossSite
}
