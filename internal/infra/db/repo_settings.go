package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"captchad/internal/domain"
)

const settingsRowID = "default"

// SettingsRepo persists and reassembles the CaptchaSettings snapshot.
type SettingsRepo struct {
	store *Store
}

func NewSettingsRepo(store *Store) *SettingsRepo {
	return &SettingsRepo{store: store}
}

// Load reads the snapshot. A missing row means the admin never saved
// settings; that is reported as an error so the resolver can fall through
// to its next source.
func (r *SettingsRepo) Load(ctx context.Context) (domain.CaptchaSettings, error) {
	if !r.store.Enabled() {
		return domain.CaptchaSettings{}, errors.New("settings store disabled")
	}

	var row CaptchaSettingModel
	if err := r.store.DB.WithContext(ctx).First(&row, "id = ?", settingsRowID).Error; err != nil {
		return domain.CaptchaSettings{}, err
	}

	var providers []CaptchaProviderModel
	if err := r.store.DB.WithContext(ctx).Find(&providers).Error; err != nil {
		return domain.CaptchaSettings{}, err
	}

	s := domain.CaptchaSettings{
		Enabled:             row.Enabled,
		ChallengeLength:     row.ChallengeLength,
		ChallengeEndpoint:   row.ChallengeEndpoint,
		ChallengeTTLSeconds: row.ChallengeTTLSeconds,
		Providers:           make(map[domain.ProviderType]domain.ProviderSettings, len(providers)),
	}
	if p, ok := domain.ParseProviderType(row.PreferredType); ok {
		s.PreferredType = p
	}
	if order := strings.TrimSpace(row.FallbackOrder); order != "" {
		s.FallbackOrder = []domain.ProviderType{}
		for _, part := range strings.Split(order, ",") {
			if p, ok := domain.ParseProviderType(strings.TrimSpace(part)); ok {
				s.FallbackOrder = append(s.FallbackOrder, p)
			}
		}
	}
	for _, pm := range providers {
		p, ok := domain.ParseProviderType(pm.Type)
		if !ok {
			continue
		}
		s.Providers[p] = domain.ProviderSettings{Enabled: pm.Enabled, SiteKey: pm.SiteKey}
	}
	return s, nil
}

// Save upserts the snapshot transactionally.
func (r *SettingsRepo) Save(ctx context.Context, s domain.CaptchaSettings) error {
	if !r.store.Enabled() {
		return errors.New("settings store disabled")
	}
	now := time.Now().UTC()

	row := CaptchaSettingModel{
		ID:                  settingsRowID,
		Enabled:             s.Enabled,
		PreferredType:       string(s.PreferredType),
		ChallengeLength:     s.ChallengeLength,
		ChallengeEndpoint:   s.ChallengeEndpoint,
		ChallengeTTLSeconds: s.ChallengeTTLSeconds,
		UpdatedAt:           now,
	}
	if s.FallbackOrder != nil {
		parts := make([]string, 0, len(s.FallbackOrder))
		for _, p := range s.FallbackOrder {
			parts = append(parts, string(p))
		}
		row.FallbackOrder = strings.Join(parts, ",")
	}

	return r.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		for p, ps := range s.Providers {
			pm := CaptchaProviderModel{
				Type:      string(p),
				Enabled:   ps.Enabled,
				SiteKey:   ps.SiteKey,
				UpdatedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&pm).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
