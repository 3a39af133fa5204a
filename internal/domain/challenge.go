package domain

import "time"

// Challenge is one issuance of the internal visual challenge. Challenges
// are single-use: a new one is generated on every mount, refresh and
// reset, and the answer never leaves the process.
type Challenge struct {
	ID       string
	Answer   string
	ImagePNG []byte
	IssuedAt time.Time
	TTL      time.Duration
}

// ExpiresAt is the instant after which the challenge no longer validates.
func (c Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Expired reports whether the challenge is past its time-to-live at now.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// RemainingFraction returns how much of the TTL is left in [0,1], used by
// the countdown display.
func (c Challenge) RemainingFraction(now time.Time) float64 {
	if c.TTL <= 0 {
		return 0
	}
	left := c.ExpiresAt().Sub(now)
	if left <= 0 {
		return 0
	}
	f := float64(left) / float64(c.TTL)
	if f > 1 {
		return 1
	}
	return f
}
