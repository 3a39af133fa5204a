package captcha

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"captchad/internal/domain"
)

// Token derives the opaque verification value forwarded to the host once
// a challenge is solved. It binds the answer, the challenge id and the
// issue time, so a token for one challenge can never replay against
// another.
func Token(secret []byte, ch domain.Challenge) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%d|%s", ch.ID, ch.IssuedAt.Unix(), ch.Answer)
	return hex.EncodeToString(mac.Sum(nil))
}

// TokenValid reports whether token was derived from exactly this
// challenge under the same secret.
func TokenValid(secret []byte, ch domain.Challenge, token string) bool {
	want := Token(secret, ch)
	return hmac.Equal([]byte(want), []byte(token))
}
