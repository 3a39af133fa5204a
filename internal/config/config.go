package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AdminAPIKey string

	// TokenSecret keys the HMAC binding internal challenge tokens.
	TokenSecret string

	CaptchaEnabled      bool
	PreferredProvider   string
	SettingsEndpoint    string
	ChallengeLength     int
	ChallengeEndpoint   string
	ChallengeTTLSeconds int

	FriendlySiteKey  string
	ScoreSiteKey     string
	CheckboxSiteKey  string
	TurnstileSiteKey string

	SessionTTLMinutes int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		TokenSecret:            os.Getenv("CAPTCHA_TOKEN_SECRET"),
		CaptchaEnabled:         envBoolDefault("CAPTCHA_ENABLED", false),
		PreferredProvider:      os.Getenv("CAPTCHA_PREFERRED_PROVIDER"),
		SettingsEndpoint:       os.Getenv("CAPTCHA_SETTINGS_ENDPOINT"),
		ChallengeLength:        envIntDefault("CAPTCHA_CHALLENGE_LENGTH", 6),
		ChallengeEndpoint:      os.Getenv("CAPTCHA_CHALLENGE_ENDPOINT"),
		ChallengeTTLSeconds:    envIntDefault("CAPTCHA_CHALLENGE_TTL_SECONDS", 300),
		FriendlySiteKey:        os.Getenv("CAPTCHA_FRIENDLY_SITE_KEY"),
		ScoreSiteKey:           os.Getenv("CAPTCHA_SCORE_SITE_KEY"),
		CheckboxSiteKey:        os.Getenv("CAPTCHA_CHECKBOX_SITE_KEY"),
		TurnstileSiteKey:       os.Getenv("CAPTCHA_TURNSTILE_SITE_KEY"),
		SessionTTLMinutes:      envIntDefault("CAPTCHA_SESSION_TTL_MINUTES", 30),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) SessionTTL() time.Duration {
	if c.SessionTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
