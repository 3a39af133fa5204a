package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSessionNotFound   = errors.New("session not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeMismatch = errors.New("challenge answer mismatch")
	ErrProviderMismatch  = errors.New("event provider is not active")
	ErrStaleEpoch        = errors.New("stale reset epoch")
	ErrInvalidSettings   = errors.New("invalid captcha settings")
	ErrRateLimited       = errors.New("rate limited")
)
