package chain

import (
	"testing"

	"captchad/internal/domain"
)

func settingsWith(types ...domain.ProviderType) domain.CaptchaSettings {
	s := domain.CaptchaSettings{
		Enabled:   true,
		Providers: make(map[domain.ProviderType]domain.ProviderSettings),
	}
	for _, t := range types {
		s.Providers[t] = domain.ProviderSettings{Enabled: true, SiteKey: "key-" + string(t)}
	}
	return s
}

func assertChain(t *testing.T, got Chain, want ...domain.ProviderType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected chain %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected chain %v, got %v", want, got)
		}
	}
}

func TestBuildDefaultPriority(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly, domain.ProviderScore, domain.ProviderCheckbox, domain.ProviderTurnstile)
	got := Build(s, "")
	assertChain(t, got,
		domain.ProviderFriendly,
		domain.ProviderScore,
		domain.ProviderCheckbox,
		domain.ProviderTurnstile,
		domain.ProviderInternal,
	)
}

func TestBuildPreferredFirst(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly, domain.ProviderCheckbox)
	got := Build(s, domain.ProviderCheckbox)
	assertChain(t, got, domain.ProviderCheckbox, domain.ProviderFriendly, domain.ProviderInternal)
}

func TestBuildUnavailablePreferredDropped(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly)
	got := Build(s, domain.ProviderScore)
	assertChain(t, got, domain.ProviderFriendly, domain.ProviderInternal)
}

func TestBuildSkipsMissingSiteKey(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly)
	s.Providers[domain.ProviderScore] = domain.ProviderSettings{Enabled: true, SiteKey: "   "}
	got := Build(s, "")
	assertChain(t, got, domain.ProviderFriendly, domain.ProviderInternal)
}

func TestBuildAdminOrderWithSafetyNet(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly, domain.ProviderScore, domain.ProviderTurnstile)
	s.FallbackOrder = []domain.ProviderType{domain.ProviderTurnstile, domain.ProviderScore}
	got := Build(s, "")
	// Friendly was left unranked by the admin; the default priority
	// appends it after the admin's picks.
	assertChain(t, got,
		domain.ProviderTurnstile,
		domain.ProviderScore,
		domain.ProviderFriendly,
		domain.ProviderInternal,
	)
}

func TestBuildAdminOrderCannotDemoteInternal(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly)
	s.FallbackOrder = []domain.ProviderType{domain.ProviderInternal, domain.ProviderFriendly}
	got := Build(s, "")
	assertChain(t, got, domain.ProviderFriendly, domain.ProviderInternal)
}

func TestBuildNothingAvailable(t *testing.T) {
	s := settingsWith()
	got := Build(s, "")
	assertChain(t, got, domain.ProviderInternal)
}

func TestBuildInternalExactlyOnceAndLast(t *testing.T) {
	cases := []domain.CaptchaSettings{
		settingsWith(),
		settingsWith(domain.ProviderFriendly),
		settingsWith(domain.ProviderFriendly, domain.ProviderScore, domain.ProviderCheckbox, domain.ProviderTurnstile),
	}
	for _, s := range cases {
		got := Build(s, domain.ProviderInternal)
		count := 0
		for _, p := range got {
			if p == domain.ProviderInternal {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected internal exactly once, got %v", got)
		}
		if got[len(got)-1] != domain.ProviderInternal {
			t.Fatalf("expected internal last, got %v", got)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	s := settingsWith(domain.ProviderFriendly, domain.ProviderScore, domain.ProviderTurnstile)
	s.FallbackOrder = []domain.ProviderType{domain.ProviderScore}
	first := Build(s, domain.ProviderTurnstile)
	for i := 0; i < 10; i++ {
		if !first.Equal(Build(s, domain.ProviderTurnstile)) {
			t.Fatal("expected identical chains for identical inputs")
		}
	}
}
