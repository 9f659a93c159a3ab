package security

import "time"

// DefaultRefreshLeeway is how long before the provider-supplied expiry a
// credential is treated as expired. Zero keeps the strict now > expiresAt
// boundary.
const DefaultRefreshLeeway time.Duration = 0

// IsExpired reports whether a credential expiring at expiresAt must be
// refreshed at now. A zero expiresAt is always expired.
func IsExpired(now, expiresAt time.Time, leeway time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return now.Add(leeway).After(expiresAt)
}

// UntilNextDay returns the time left between now and the start of the next
// calendar day in loc. The result is always positive: at exactly midnight it
// is a full day.
func UntilNextDay(now time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return next.Sub(local)
}

// ExpiresAt converts a provider lifetime into an absolute UTC instant. A
// missing or non-positive lifetime yields now, so the credential is stale
// as soon as time moves on.
func ExpiresAt(now time.Time, lifetime time.Duration) time.Time {
	if lifetime <= 0 {
		return now.UTC()
	}
	return now.Add(lifetime).UTC()
}
