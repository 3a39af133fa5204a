package domain

import "strings"

// ProviderSettings is the per-provider slice of the admin configuration.
type ProviderSettings struct {
	Enabled bool   `json:"enabled"`
	SiteKey string `json:"site_key"`
}

// CaptchaSettings is an immutable snapshot of the admin configuration.
// A settings change produces a brand-new snapshot; nothing mutates one
// in place after it has been handed to an orchestrator.
type CaptchaSettings struct {
	// Enabled is the master kill switch. False short-circuits every
	// session to an automatic pass with the sentinel token.
	Enabled bool `json:"enabled"`

	// PreferredType is the admin-selected default provider, empty when
	// unset. Callers may override it per session.
	PreferredType ProviderType `json:"preferred_type,omitempty"`

	// FallbackOrder overrides DefaultPriority when non-nil. Providers the
	// admin omitted are still reachable: the builder appends the default
	// priority after the admin ranking as a safety net.
	FallbackOrder []ProviderType `json:"fallback_order,omitempty"`

	Providers map[ProviderType]ProviderSettings `json:"providers"`

	// ChallengeLength is the digit count of the internal challenge.
	ChallengeLength int `json:"challenge_length"`
	// ChallengeEndpoint, when set, lets the internal provider fetch a
	// server-rendered challenge instead of generating one locally.
	ChallengeEndpoint string `json:"challenge_endpoint,omitempty"`
	// ChallengeTTLSeconds is the internal challenge time-to-live.
	ChallengeTTLSeconds int `json:"challenge_ttl_seconds"`
}

const (
	DefaultChallengeLength     = 6
	DefaultChallengeTTLSeconds = 300
)

// SafeDefault is the snapshot used when settings cannot be resolved.
// Verification is bypassed rather than blocking the host form.
func SafeDefault() CaptchaSettings {
	return CaptchaSettings{
		Enabled:             false,
		ChallengeLength:     DefaultChallengeLength,
		ChallengeTTLSeconds: DefaultChallengeTTLSeconds,
	}
}

// Available reports whether a provider can be mounted under this snapshot:
// enabled with a non-empty site key for remote types, unconditionally true
// for the internal provider.
func (s CaptchaSettings) Available(p ProviderType) bool {
	if p == ProviderInternal {
		return true
	}
	if !p.Valid() {
		return false
	}
	ps, ok := s.Providers[p]
	return ok && ps.Enabled && strings.TrimSpace(ps.SiteKey) != ""
}

// SiteKey returns the configured site key for a provider, empty for the
// internal provider and for unconfigured types.
func (s CaptchaSettings) SiteKey(p ProviderType) string {
	if ps, ok := s.Providers[p]; ok {
		return strings.TrimSpace(ps.SiteKey)
	}
	return ""
}

// Normalized returns a copy with tuning fields clamped to usable values.
func (s CaptchaSettings) Normalized() CaptchaSettings {
	if s.ChallengeLength < 4 || s.ChallengeLength > 10 {
		s.ChallengeLength = DefaultChallengeLength
	}
	if s.ChallengeTTLSeconds <= 0 {
		s.ChallengeTTLSeconds = DefaultChallengeTTLSeconds
	}
	return s
}
