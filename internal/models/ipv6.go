package models

import "time"

// DomainIPv6Stats tracks Happy-Eyeballs learning state for one domain.
type DomainIPv6Stats struct {
	Domain               string
	IPv6Enabled          bool
	IPv6EMA              float64
	IPv4EMA              float64
	IPv6Attempts         int
	IPv4Attempts         int
	SwitchCount          int
	SwitchSuccessCount   int
	LastIPv6AttemptAt    time.Time
	LastIPv4AttemptAt    time.Time
	UpdatedAt            time.Time
}
