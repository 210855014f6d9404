package badger

import (
	"time"

	"github.com/ternarybob/lancet/internal/models"
)

// ipv6Record is the badgerhold-persisted shape of models.DomainIPv6Stats, keyed by domain.
type ipv6Record struct {
	Domain             string `boltholdKey:"Domain"`
	IPv6Enabled        bool
	IPv6EMA            float64
	IPv4EMA            float64
	IPv6Attempts       int
	IPv4Attempts       int
	SwitchCount        int
	SwitchSuccessCount int
	LastIPv6AttemptAt  time.Time
	LastIPv4AttemptAt  time.Time
	UpdatedAt          time.Time
}

// IPv6StatsStore persists per-domain Happy-Eyeballs learning state.
type IPv6StatsStore struct {
	db *BadgerDB
}

func NewIPv6StatsStore(db *BadgerDB) *IPv6StatsStore {
	return &IPv6StatsStore{db: db}
}

// Get returns the stored stats for domain, or a fresh zero-value record if none exists.
func (s *IPv6StatsStore) Get(domain string) models.DomainIPv6Stats {
	var rec ipv6Record
	if err := s.db.Store().Get(domain, &rec); err != nil {
		return models.DomainIPv6Stats{Domain: domain, IPv6Enabled: true}
	}
	return fromIPv6Record(rec)
}

// Put replaces the stored stats for the domain.
func (s *IPv6StatsStore) Put(stats models.DomainIPv6Stats) error {
	rec := toIPv6Record(stats)
	return s.db.Store().Upsert(rec.Domain, &rec)
}

func toIPv6Record(s models.DomainIPv6Stats) ipv6Record {
	return ipv6Record{
		Domain:             s.Domain,
		IPv6Enabled:        s.IPv6Enabled,
		IPv6EMA:            s.IPv6EMA,
		IPv4EMA:            s.IPv4EMA,
		IPv6Attempts:       s.IPv6Attempts,
		IPv4Attempts:       s.IPv4Attempts,
		SwitchCount:        s.SwitchCount,
		SwitchSuccessCount: s.SwitchSuccessCount,
		LastIPv6AttemptAt:  s.LastIPv6AttemptAt,
		LastIPv4AttemptAt:  s.LastIPv4AttemptAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromIPv6Record(r ipv6Record) models.DomainIPv6Stats {
	return models.DomainIPv6Stats{
		Domain:             r.Domain,
		IPv6Enabled:        r.IPv6Enabled,
		IPv6EMA:            r.IPv6EMA,
		IPv4EMA:            r.IPv4EMA,
		IPv6Attempts:       r.IPv6Attempts,
		IPv4Attempts:       r.IPv4Attempts,
		SwitchCount:        r.SwitchCount,
		SwitchSuccessCount: r.SwitchSuccessCount,
		LastIPv6AttemptAt:  r.LastIPv6AttemptAt,
		LastIPv4AttemptAt:  r.LastIPv4AttemptAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
