package db

import "time"

// CaptchaSettingModel is the single-row admin snapshot. One row with a
// fixed primary key keeps updates trivially atomic.
type CaptchaSettingModel struct {
	ID                  string    `gorm:"primaryKey"`
	Enabled             bool      `gorm:"not null"`
	PreferredType       string    `gorm:"column:preferred_type"`
	FallbackOrder       string    `gorm:"column:fallback_order"`
	ChallengeLength     int       `gorm:"not null"`
	ChallengeEndpoint   string
	ChallengeTTLSeconds int       `gorm:"column:challenge_ttl_seconds;not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (CaptchaSettingModel) TableName() string {
	return "captcha_settings"
}

// CaptchaProviderModel is one remote provider's toggle and site key.
type CaptchaProviderModel struct {
	Type      string    `gorm:"primaryKey"`
	Enabled   bool      `gorm:"not null"`
	SiteKey   string
	UpdatedAt time.Time `gorm:"not null"`
}

func (CaptchaProviderModel) TableName() string {
	return "captcha_providers"
}
