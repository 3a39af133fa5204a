// Package settings resolves the CaptchaSettings snapshot consumed by the
// orchestrator. Resolution is fail-safe by contract: if every source is
// absent or failing, the resolver returns the disabled default rather
// than an error that would block the widget from rendering.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"captchad/internal/domain"
)

// Source supplies one candidate settings snapshot.
type Source interface {
	Name() string
	Load(ctx context.Context) (domain.CaptchaSettings, error)
}

// Resolver walks its sources in order and returns the first snapshot that
// loads. Never errors.
type Resolver struct {
	sources []Source
}

func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

func (r *Resolver) Resolve(ctx context.Context) domain.CaptchaSettings {
	for _, src := range r.sources {
		s, err := src.Load(ctx)
		if err != nil {
			log.Printf("[settings] source %s failed: %v", src.Name(), err)
			continue
		}
		return s.Normalized()
	}
	log.Printf("[settings] no source resolved; verification disabled")
	return domain.SafeDefault()
}

// Static serves a fixed snapshot, typically assembled from environment
// configuration.
type Static struct {
	Settings domain.CaptchaSettings
}

func (s Static) Name() string { return "static" }

func (s Static) Load(context.Context) (domain.CaptchaSettings, error) {
	return s.Settings, nil
}

// StoreSource reads the admin-persisted snapshot.
type StoreSource struct {
	Store SettingsStore
}

// SettingsStore is the persistence boundary; the gorm repository under
// internal/infra/db satisfies it.
type SettingsStore interface {
	Load(ctx context.Context) (domain.CaptchaSettings, error)
}

func (s StoreSource) Name() string { return "store" }

func (s StoreSource) Load(ctx context.Context) (domain.CaptchaSettings, error) {
	return s.Store.Load(ctx)
}

// Remote fetches the snapshot from a public settings endpoint.
type Remote struct {
	URL    string
	Client *http.Client
}

func NewRemote(url string) *Remote {
	return &Remote{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Load(ctx context.Context) (domain.CaptchaSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return domain.CaptchaSettings{}, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return domain.CaptchaSettings{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.CaptchaSettings{}, fmt.Errorf("settings endpoint status %d", resp.StatusCode)
	}
	var s domain.CaptchaSettings
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return domain.CaptchaSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
