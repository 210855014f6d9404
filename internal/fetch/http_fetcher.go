// Package fetch implements the dual-path fetcher: the HTTP Fetcher (G) and
// Browser Fetcher (H) contracts, each enforcing rate limiting, session
// transfer, conditional requests, proxy selection, and challenge detection
//.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/challenge"
	"github.com/ternarybob/lancet/internal/netpolicy"
	"github.com/ternarybob/lancet/internal/netutil"
	"github.com/ternarybob/lancet/internal/session"
	"golang.org/x/net/proxy"
)

// IPv6Resolver performs Happy-Eyeballs dual-stack dialing with per-domain
// learning, satisfied by netpolicy.IPv6Manager. A nil resolver leaves
// dialing to the transport's default behavior.
type IPv6Resolver interface {
	Resolve(ctx context.Context, hostname string) (ipv6, ipv4 []net.IP, err error)
	PreferredFamily(domain string, override netpolicy.Preference) bool
	Attempt(ctx context.Context, domain string, primaryIsIPv6 bool, ordered []net.IP, port string, dial func(ctx context.Context, network, address string) (net.Conn, error)) (net.Conn, netpolicy.AttemptResult, error)
}

// DNSLeakGuard is consulted once per Tor-routed request as a Tor-leak tripwire,
// satisfied by netpolicy.DNSPolicy. Its return value is not used for
// dialing; only the side effect (blocking and counting an attempted local
// resolution of a Tor-routed host) matters here.
type DNSLeakGuard interface {
	AttemptLocalResolution(ctx context.Context, hostname string, useTor bool) ([]string, bool)
}

// Result is the shape both fetch paths return.
type Result struct {
	OK           bool
	FromCache    bool
	Reason       string
	URL          string
	FinalURL     string
	Status       int
	ContentHash  string
	ETag         string
	LastModified string
}

// RateLimiter is the per-domain gate consulted before every request.
type RateLimiter interface {
	Wait(ctx context.Context, domain string) error
}

// ProxySelector picks a proxy URL's table.
type ProxySelector interface {
	SelectProxyURL(useTor, resolveDNSThroughProxy bool) string
}

// ChallengeClassifier classifies a response body.
type ChallengeClassifier interface {
	Classify(html string) challenge.Result
}

// Request is one HTTP fetch request.
type Request struct {
	URL                string
	Referer            string
	CachedETag         string
	CachedLastModified string
	UseTor             bool
	ResolveDNSThroughProxy bool
	UserAgent          string
	AcceptLanguage     string
	UserInitiated      bool
}

// HTTPFetcher implements the HTTP Fetcher contract (G).
type HTTPFetcher struct {
	logger       arbor.ILogger
	rateLimiter  RateLimiter
	proxySelector ProxySelector
	sessions     *session.Manager
	classifier   ChallengeClassifier
	store        *ContentStore
	ipv6         IPv6Resolver
	dnsGuard     DNSLeakGuard
	clientFor    func(proxyURL string) (*http.Client, error)
}

func NewHTTPFetcher(logger arbor.ILogger, rateLimiter RateLimiter, proxySelector ProxySelector, sessions *session.Manager, classifier ChallengeClassifier, store *ContentStore, ipv6 IPv6Resolver, dnsGuard DNSLeakGuard) *HTTPFetcher {
	f := &HTTPFetcher{
		logger:        logger,
		rateLimiter:   rateLimiter,
		proxySelector: proxySelector,
		sessions:      sessions,
		classifier:    classifier,
		store:         store,
		ipv6:          ipv6,
		dnsGuard:      dnsGuard,
	}
	f.clientFor = f.buildClient
	return f
}

// Fetch executes one exchange per the HTTP Fetcher contract.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) Result {
	domain := netutil.RegistrableDomain(req.URL)
	if domain == "" {
		return Result{OK: false, Reason: "invalid_url"}
	}

	if err := f.rateLimiter.Wait(ctx, domain); err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}

	if req.UseTor && f.dnsGuard != nil {
		if host := hostnameFromURL(req.URL); host != "" {
			f.dnsGuard.AttemptLocalResolution(ctx, host, true)
		}
	}

	destination := netutil.DestDocument
	secFetch := netutil.ComputeSecFetchHeaders(netutil.NavigationContext{
		TargetURL:     req.URL,
		RefererURL:    req.Referer,
		UserInitiated: req.UserInitiated,
		Destination:   destination,
	})

	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", defaultString(req.AcceptLanguage, "en-US,en;q=0.9"))
	headers.Set("Accept-Encoding", "gzip, deflate, br")
	headers.Set("Sec-Fetch-Site", secFetch.Site)
	headers.Set("Sec-Fetch-Mode", secFetch.Mode)
	headers.Set("Sec-Fetch-Dest", secFetch.Dest)
	if secFetch.User != "" {
		headers.Set("Sec-Fetch-User", secFetch.User)
	}
	if req.Referer != "" {
		headers.Set("Referer", req.Referer)
	}
	if req.UserAgent != "" {
		headers.Set("User-Agent", req.UserAgent)
	}

	// Session-transfer headers merge in, but URL-specific conditional values
	// always take precedence.
	if f.sessions != nil {
		synth := f.sessions.Synthesize(req.URL, session.SynthesisOptions{
			IncludeConditional: req.CachedETag == "" && req.CachedLastModified == "",
			UserInitiated:      req.UserInitiated,
		}, time.Now())
		if synth.OK {
			if headers.Get("Cookie") == "" && synth.Cookie != "" {
				headers.Set("Cookie", synth.Cookie)
			}
			if req.UserAgent == "" && synth.UserAgent != "" {
				headers.Set("User-Agent", synth.UserAgent)
			}
			if synth.IfNoneMatch != "" {
				headers.Set("If-None-Match", synth.IfNoneMatch)
			}
			if synth.IfModifiedSince != "" {
				headers.Set("If-Modified-Since", synth.IfModifiedSince)
			}
		}
	}
	if req.CachedETag != "" {
		headers.Set("If-None-Match", req.CachedETag)
	}
	if req.CachedLastModified != "" {
		headers.Set("If-Modified-Since", req.CachedLastModified)
	}

	proxyURL := f.proxySelector.SelectProxyURL(req.UseTor, req.ResolveDNSThroughProxy)
	client, err := f.clientFor(proxyURL)
	if err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}
	httpReq.Header = headers

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()

	if resp.StatusCode == http.StatusNotModified {
		return Result{
			OK:           true,
			FromCache:    true,
			URL:          req.URL,
			FinalURL:     finalURL,
			Status:       resp.StatusCode,
			ETag:         req.CachedETag,
			LastModified: req.CachedLastModified,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}

	if resp.StatusCode == http.StatusOK && f.classifier != nil {
		if result := f.classifier.Classify(string(body)); result.IsChallenge() {
			return Result{OK: false, Reason: "challenge_detected", URL: req.URL, FinalURL: finalURL, Status: resp.StatusCode}
		}
	}

	hash, err := f.store.PutContent(body)
	if err != nil {
		return Result{OK: false, Reason: rewriteEmptyMessage(err)}
	}
	bundle, err := buildArchiveBundle(req.URL, headers, resp, body)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", req.URL).Msg("failed to build archive bundle")
	} else if err := f.store.PutArchive(hash, bundle); err != nil {
		f.logger.Warn().Err(err).Str("url", req.URL).Msg("failed to persist archive bundle")
	}

	return Result{
		OK:           true,
		URL:          req.URL,
		FinalURL:     finalURL,
		Status:       resp.StatusCode,
		ContentHash:  hash,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

func buildArchiveBundle(targetURL string, reqHeaders http.Header, resp *http.Response, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeArchiveRecord(&buf, targetURL, reqHeaders, resp.StatusCode, resp.Status, resp.Header, body, time.Now()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildClient constructs an http.Client honoring the Chrome-aligned
// TLS/transport shape available without a TLS-fingerprint library (see
// DESIGN.md) and the given proxy form.
func (f *HTTPFetcher) buildClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 4,
	}

	if proxyURL != "" {
		dialer, err := dialerForProxy(proxyURL)
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	} else {
		transport.DialContext = f.dialDirect
	}

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}, nil
}

func dialerForProxy(proxyURL string) (proxy.Dialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	// Both socks5h:// (remote DNS, leak-safe) and socks5:// (local DNS,
	// documented unsafe override) dial through the same SOCKS5 client; the
	// distinction is which layer resolved the hostname before this point.
	return proxy.SOCKS5("tcp", u.Host, nil, proxy.Direct)
}

// dialDirect races dual-stack addresses through the IPv6 manager when one is
// configured, falling back to a plain dialer for non-routable hosts or when
// no resolver is wired in.
func (f *HTTPFetcher) dialDirect(ctx context.Context, network, addr string) (net.Conn, error) {
	plain := (&net.Dialer{}).DialContext
	if f.ipv6 == nil {
		return plain(ctx, network, addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return plain(ctx, network, addr)
	}

	ipv6Addrs, ipv4Addrs, err := f.ipv6.Resolve(ctx, host)
	if err != nil || (len(ipv6Addrs) == 0 && len(ipv4Addrs) == 0) {
		return plain(ctx, network, addr)
	}

	domain := netutil.RegistrableDomain("https://" + host)
	if domain == "" {
		domain = host
	}

	preferIPv6 := f.ipv6.PreferredFamily(domain, netpolicy.PreferenceAuto)
	primary, secondary := ipv4Addrs, ipv6Addrs
	if preferIPv6 {
		primary, secondary = ipv6Addrs, ipv4Addrs
	}
	ordered := netpolicy.Interleave(primary, secondary)
	if len(ordered) == 0 {
		return plain(ctx, network, addr)
	}

	conn, _, err := f.ipv6.Attempt(ctx, domain, preferIPv6, ordered, port, plain)
	return conn, err
}

func hostnameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func rewriteEmptyMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return fmt.Sprintf("%T: (no message)", err)
	}
	return msg
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
