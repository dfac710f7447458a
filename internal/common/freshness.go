// Package common provides shared utilities for depotsync
package common

import "time"

// Freshness TTLs for cached data components
const (
	FreshnessTransactions = 15 * time.Minute
	FreshnessTodayPrice   = 24 * time.Hour
	FreshnessValuation    = 1 * time.Hour
	FreshnessSnapshot     = 1 * time.Hour
	FreshnessFXRates      = 24 * time.Hour
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
