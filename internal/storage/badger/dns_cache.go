package badger

import (
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// DNSCacheEntry is a direct-route resolution result cached keyed on (hostname, route).
// Route distinguishes plain-direct resolution from any future routed variants; today
// the DNS policy only ever caches the direct (non-Tor) route
type DNSCacheEntry struct {
	Key       string `boltholdKey:"Key"` // hostname + "|" + route
	Hostname  string
	Route     string
	Addresses []string
	ExpiresAt time.Time
}

// DNSCacheStore persists DNSCacheEntry rows, TTL-clamped by the caller.
type DNSCacheStore struct {
	db *BadgerDB
}

func NewDNSCacheStore(db *BadgerDB) *DNSCacheStore {
	return &DNSCacheStore{db: db}
}

func dnsCacheKey(hostname, route string) string {
	return hostname + "|" + route
}

// Get returns the cached addresses for (hostname, route) if present and unexpired.
func (s *DNSCacheStore) Get(hostname, route string, now time.Time) ([]string, bool) {
	var entry DNSCacheEntry
	if err := s.db.Store().Get(dnsCacheKey(hostname, route), &entry); err != nil {
		return nil, false
	}
	if now.After(entry.ExpiresAt) {
		_ = s.db.Store().Delete(entry.Key, &DNSCacheEntry{})
		return nil, false
	}
	return entry.Addresses, true
}

// Set inserts or replaces the cache entry for (hostname, route).
func (s *DNSCacheStore) Set(hostname, route string, addrs []string, expiresAt time.Time) error {
	entry := DNSCacheEntry{
		Key:       dnsCacheKey(hostname, route),
		Hostname:  hostname,
		Route:     route,
		Addresses: addrs,
		ExpiresAt: expiresAt,
	}
	return s.db.Store().Upsert(entry.Key, &entry)
}

// PruneExpired removes every entry whose TTL has passed as of now. Intended for
// the background janitor tick.
func (s *DNSCacheStore) PruneExpired(now time.Time) (int, error) {
	var stale []DNSCacheEntry
	if err := s.db.Store().Find(&stale, badgerhold.Where("ExpiresAt").Lt(now)); err != nil {
		return 0, err
	}
	for _, e := range stale {
		if err := s.db.Store().Delete(e.Key, &DNSCacheEntry{}); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
