package models

import "time"

// Cookie is a single captured browser cookie, serialised verbatim for session transfer.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"same_site,omitempty"`
}

// Session is a captured browser session usable by the HTTP client for the same
// registrable domain only.
type Session struct {
	SessionID        string
	RegistrableDomain string
	Cookies          []Cookie
	UserAgent        string
	AcceptLanguage   string
	ETag             string
	LastModified     string
	LastURL          string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the session is past its TTL as of now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
