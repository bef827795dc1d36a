package security

import "time"

const (
	// DefaultClockSkewMargin is how long before its stated expiry a token is
	// already treated as expired. It covers clock drift between us and the
	// provider plus the latency of the downstream call that will use the token.
	DefaultClockSkewMargin = 30 * time.Second
)

// IsExpired reports whether a token expiring at expiresAt must be refreshed at now.
// A zero expiresAt means the provider stated no lifetime and the token is never
// considered expired.
func IsExpired(expiresAt, now time.Time, margin time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	if margin < 0 {
		margin = 0
	}

	return !now.Add(margin).Before(expiresAt)
}
