package domain

// DisabledToken is the sentinel forwarded to the host when the kill switch
// is active. It is a fixed, recognizable constant and never collides with
// a provider-issued token.
const DisabledToken = "captcha-disabled"

// Verification is the outcome forwarded to the host form. An empty Token
// means "verification cleared"; hosts must treat it as not yet verified.
type Verification struct {
	Token       string       `json:"token"`
	ChallengeID string       `json:"challenge_id,omitempty"`
	Provider    ProviderType `json:"provider"`
}

// Cleared reports whether this outcome revokes a previous proof.
func (v Verification) Cleared() bool {
	return v.Token == ""
}
