package badger

import (
	"time"

	"github.com/ternarybob/lancet/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// sessionRecord is the badgerhold-persisted shape of models.Session.
type sessionRecord struct {
	SessionID         string `boltholdKey:"SessionID"`
	RegistrableDomain string `boltholdIndex:"RegistrableDomain"`
	Cookies           []models.Cookie
	UserAgent         string
	AcceptLanguage    string
	ETag              string
	LastModified      string
	LastURL           string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// SessionStore persists captured browser sessions with an LRU bound and
// registrable-domain scoping.
type SessionStore struct {
	db          *BadgerDB
	maxSessions int
}

func NewSessionStore(db *BadgerDB, maxSessions int) *SessionStore {
	return &SessionStore{db: db, maxSessions: maxSessions}
}

// Put inserts or replaces a session, evicting the oldest (by CreatedAt) entries
// if the store would exceed maxSessions.
func (s *SessionStore) Put(sess models.Session) error {
	rec := toSessionRecord(sess)
	if err := s.db.Store().Upsert(rec.SessionID, &rec); err != nil {
		return err
	}
	return s.evictOverflow()
}

func (s *SessionStore) evictOverflow() error {
	if s.maxSessions <= 0 {
		return nil
	}
	var all []sessionRecord
	if err := s.db.Store().Find(&all, nil); err != nil {
		return err
	}
	overflow := len(all) - s.maxSessions
	if overflow <= 0 {
		return nil
	}
	// Oldest-first by CreatedAt.
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].CreatedAt.Before(all[i].CreatedAt) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	for i := 0; i < overflow; i++ {
		if err := s.db.Store().Delete(all[i].SessionID, &sessionRecord{}); err != nil {
			return err
		}
	}
	return nil
}

// MostRecentForDomain returns the most recently created unexpired session for
// registrableDomain, or ok=false if none exists.
func (s *SessionStore) MostRecentForDomain(registrableDomain string, now time.Time) (models.Session, bool) {
	var matches []sessionRecord
	if err := s.db.Store().Find(&matches, badgerhold.Where("RegistrableDomain").Eq(registrableDomain)); err != nil {
		return models.Session{}, false
	}
	var best *sessionRecord
	for i := range matches {
		rec := matches[i]
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = &matches[i]
		}
	}
	if best == nil {
		return models.Session{}, false
	}
	return fromSessionRecord(*best), true
}

// InvalidateDomain bulk-removes every session for registrableDomain.
func (s *SessionStore) InvalidateDomain(registrableDomain string) (int, error) {
	var matches []sessionRecord
	if err := s.db.Store().Find(&matches, badgerhold.Where("RegistrableDomain").Eq(registrableDomain)); err != nil {
		return 0, err
	}
	for _, rec := range matches {
		if err := s.db.Store().Delete(rec.SessionID, &sessionRecord{}); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// PruneExpired removes every session past its ExpiresAt. Intended for the background janitor.
func (s *SessionStore) PruneExpired(now time.Time) (int, error) {
	var all []sessionRecord
	if err := s.db.Store().Find(&all, nil); err != nil {
		return 0, err
	}
	pruned := 0
	for _, rec := range all {
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			if err := s.db.Store().Delete(rec.SessionID, &sessionRecord{}); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func toSessionRecord(s models.Session) sessionRecord {
	return sessionRecord{
		SessionID:         s.SessionID,
		RegistrableDomain: s.RegistrableDomain,
		Cookies:           s.Cookies,
		UserAgent:         s.UserAgent,
		AcceptLanguage:    s.AcceptLanguage,
		ETag:              s.ETag,
		LastModified:      s.LastModified,
		LastURL:           s.LastURL,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
	}
}

func fromSessionRecord(r sessionRecord) models.Session {
	return models.Session{
		SessionID:         r.SessionID,
		RegistrableDomain: r.RegistrableDomain,
		Cookies:           r.Cookies,
		UserAgent:         r.UserAgent,
		AcceptLanguage:    r.AcceptLanguage,
		ETag:              r.ETag,
		LastModified:      r.LastModified,
		LastURL:           r.LastURL,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
	}
}
