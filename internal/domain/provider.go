package domain

// ProviderType identifies one concrete verification mechanism. Exactly one
// provider is active per session at any instant.
type ProviderType string

const (
	// ProviderFriendly is the privacy-first invisible widget.
	ProviderFriendly ProviderType = "friendly"
	// ProviderScore is the score-based invisible widget.
	ProviderScore ProviderType = "score"
	// ProviderCheckbox is the checkbox widget.
	ProviderCheckbox ProviderType = "checkbox"
	// ProviderTurnstile is the checkbox-alternative widget.
	ProviderTurnstile ProviderType = "turnstile"
	// ProviderInternal is the self-contained visual challenge. It has no
	// external dependency and is always available.
	ProviderInternal ProviderType = "internal"
)

// DefaultPriority is the built-in fallback order for remote providers.
// ProviderInternal is appended separately by the chain builder and is
// deliberately absent here.
var DefaultPriority = []ProviderType{
	ProviderFriendly,
	ProviderScore,
	ProviderCheckbox,
	ProviderTurnstile,
}

// RemoteTypes lists every provider type backed by a third-party script.
var RemoteTypes = DefaultPriority

func (p ProviderType) Valid() bool {
	switch p {
	case ProviderFriendly, ProviderScore, ProviderCheckbox, ProviderTurnstile, ProviderInternal:
		return true
	}
	return false
}

// Remote reports whether the provider depends on an external script.
func (p ProviderType) Remote() bool {
	return p.Valid() && p != ProviderInternal
}

// ParseProviderType maps a wire value to a ProviderType. Unknown values
// return "" and ok=false; callers treat that as "no preference".
func ParseProviderType(s string) (ProviderType, bool) {
	p := ProviderType(s)
	if p.Valid() {
		return p, true
	}
	return "", false
}
