// Package chain builds the ordered list of provider types a verification
// session attempts. The build is a pure function of the settings snapshot
// and the caller preference, so identical inputs always produce identical
// chains.
package chain

import "captchad/internal/domain"

// Chain is an ordered sequence of distinct provider types, terminated by
// domain.ProviderInternal.
type Chain []domain.ProviderType

// Build assembles the fallback chain. Order of insertion:
//
//  1. the caller/admin preferred type, when available
//  2. the admin fallback order when supplied, otherwise the built-in
//     default priority
//  3. when an admin order was supplied, the built-in default priority as
//     a safety net for providers the admin left unranked
//  4. the internal provider, always, as the final entry
//
// Providers that are disabled or missing a site key are skipped before
// they can ever be mounted; a preferred type that is unavailable is
// silently dropped.
func Build(settings domain.CaptchaSettings, preferred domain.ProviderType) Chain {
	var out Chain
	seen := make(map[domain.ProviderType]bool, len(domain.DefaultPriority)+1)

	push := func(p domain.ProviderType) {
		if seen[p] || !settings.Available(p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	// A preference for the internal provider does not reorder anything:
	// it is pinned to the tail so the chain always terminates there.
	if preferred != "" && preferred != domain.ProviderInternal {
		push(preferred)
	}

	for _, p := range settings.FallbackOrder {
		if p == domain.ProviderInternal {
			// The internal provider is pinned last regardless of where
			// the admin ranked it.
			continue
		}
		push(p)
	}
	// Built-in priority: the whole ordering when no admin order exists,
	// the safety net for unranked providers when one does.
	for _, p := range domain.DefaultPriority {
		push(p)
	}

	push(domain.ProviderInternal)

	if len(out) == 0 {
		// Unreachable given the internal provider is always available,
		// kept as a hard floor.
		out = Chain{domain.ProviderInternal}
	}
	return out
}

// Equal reports whether two chains are identical in length and order.
func (c Chain) Equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether p appears anywhere in the chain.
func (c Chain) Contains(p domain.ProviderType) bool {
	for _, t := range c {
		if t == p {
			return true
		}
	}
	return false
}
