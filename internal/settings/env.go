package settings

import (
	"captchad/internal/config"
	"captchad/internal/domain"
)

// FromConfig maps environment configuration to a settings snapshot. A
// provider is listed as enabled whenever its site key is configured; the
// finer per-provider toggles live in the admin store.
func FromConfig(cfg config.Config) domain.CaptchaSettings {
	s := domain.CaptchaSettings{
		Enabled:             cfg.CaptchaEnabled,
		ChallengeLength:     cfg.ChallengeLength,
		ChallengeEndpoint:   cfg.ChallengeEndpoint,
		ChallengeTTLSeconds: cfg.ChallengeTTLSeconds,
		Providers:           make(map[domain.ProviderType]domain.ProviderSettings),
	}
	if p, ok := domain.ParseProviderType(cfg.PreferredProvider); ok {
		s.PreferredType = p
	}
	keys := map[domain.ProviderType]string{
		domain.ProviderFriendly:  cfg.FriendlySiteKey,
		domain.ProviderScore:     cfg.ScoreSiteKey,
		domain.ProviderCheckbox:  cfg.CheckboxSiteKey,
		domain.ProviderTurnstile: cfg.TurnstileSiteKey,
	}
	for p, key := range keys {
		if key != "" {
			s.Providers[p] = domain.ProviderSettings{Enabled: true, SiteKey: key}
		}
	}
	return s.Normalized()
}
