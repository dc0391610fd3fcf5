package models

import (
	"time"
)

// CacheMetadata is the caching instruction the API attaches to a response.
// Timestamps are unix epoch milliseconds.
type CacheMetadata struct {
	Status      string `json:"status"`
	CachedAt    uint64 `json:"cached_at"`
	CachedUntil uint64 `json:"cached_until" validate:"gtefield=CachedAt"`
}

// ExpiresAt returns CachedUntil as a time.Time
func (cm CacheMetadata) ExpiresAt() time.Time {
	return time.UnixMilli(int64(cm.CachedUntil))
}

// TTLRemaining returns the time left until the entry expires, relative to now.
// The result is zero or negative once the entry is dead.
func (cm CacheMetadata) TTLRemaining(now time.Time) time.Duration {
	return cm.ExpiresAt().Sub(now)
}

// IsExpired checks if the entry has expired at now
func (cm CacheMetadata) IsExpired(now time.Time) bool {
	return cm.TTLRemaining(now) <= 0
}
