package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"captchad/internal/domain"
)

// Source supplies challenges to the internal provider.
type Source interface {
	Next(ctx context.Context, now time.Time) (domain.Challenge, error)
}

// LocalSource generates challenges in-process.
type LocalSource struct {
	Generator *Generator
}

func (s LocalSource) Next(_ context.Context, now time.Time) (domain.Challenge, error) {
	return s.Generator.New(now)
}

// EndpointSource fetches a server-rendered challenge from a trusted
// internal endpoint, falling back to local generation on any failure.
// The endpoint must never become a hard dependency.
type EndpointSource struct {
	URL      string
	Client   *http.Client
	Fallback *Generator
}

type endpointChallenge struct {
	Image     string `json:"image"`
	CaptchaID string `json:"captchaId"`
	Answer    string `json:"answer,omitempty"`
}

func NewEndpointSource(url string, fallback *Generator) *EndpointSource {
	return &EndpointSource{
		URL:      url,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Fallback: fallback,
	}
}

func (s *EndpointSource) Next(ctx context.Context, now time.Time) (domain.Challenge, error) {
	ch, err := s.fetch(ctx, now)
	if err != nil {
		log.Printf("[captcha] challenge endpoint failed, generating locally: %v", err)
		return s.Fallback.New(now)
	}
	return ch, nil
}

func (s *EndpointSource) fetch(ctx context.Context, now time.Time) (domain.Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Challenge{}, fmt.Errorf("challenge endpoint status %d", resp.StatusCode)
	}

	var raw endpointChallenge
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if raw.CaptchaID == "" || raw.Image == "" {
		return domain.Challenge{}, fmt.Errorf("challenge endpoint returned incomplete payload")
	}
	// Live validation needs the answer co-located. Endpoints that withhold
	// it (the public response shape) cannot back this provider.
	if strings.TrimSpace(raw.Answer) == "" {
		return domain.Challenge{}, fmt.Errorf("challenge endpoint withheld answer")
	}
	img, err := base64.StdEncoding.DecodeString(raw.Image)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge image: %w", err)
	}
	return domain.Challenge{
		ID:       raw.CaptchaID,
		Answer:   raw.Answer,
		ImagePNG: img,
		IssuedAt: now,
		TTL:      s.Fallback.TTL(),
	}, nil
}
