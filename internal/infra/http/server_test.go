package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"captchad/internal/config"
	"captchad/internal/domain"
	"captchad/internal/infra/ratelimit"
	"captchad/internal/provider"
	"captchad/internal/settings"
)

type okLoader struct{}

func (okLoader) Load(context.Context, provider.Script) error { return nil }

type fixedSource struct {
	answer string
	ttl    time.Duration
	n      int
}

func (s *fixedSource) Next(_ context.Context, now time.Time) (domain.Challenge, error) {
	s.n++
	return domain.Challenge{
		ID:       fmt.Sprintf("ch-%d", s.n),
		Answer:   s.answer,
		ImagePNG: []byte{0x89, 0x50},
		IssuedAt: now,
		TTL:      s.ttl,
	}, nil
}

func enabledSettings(types ...domain.ProviderType) domain.CaptchaSettings {
	s := domain.CaptchaSettings{
		Enabled:         true,
		Providers:       make(map[domain.ProviderType]domain.ProviderSettings),
		ChallengeLength: 6,
	}
	for _, p := range types {
		s.Providers[p] = domain.ProviderSettings{Enabled: true, SiteKey: "key-" + string(p)}
	}
	return s
}

type serverOpts struct {
	snap    domain.CaptchaSettings
	cfg     config.Config
	limiter domain.RateLimiter
	admin   string
}

func newTestServer(t *testing.T, opts serverOpts) (*Server, *fixedSource) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.cfg.HTTPAddr == "" {
		opts.cfg.HTTPAddr = ":0"
	}
	if opts.cfg.ChallengeLength == 0 {
		opts.cfg.ChallengeLength = 6
	}
	if opts.cfg.ChallengeTTLSeconds == 0 {
		opts.cfg.ChallengeTTLSeconds = 300
	}
	if opts.cfg.SessionTTLMinutes == 0 {
		opts.cfg.SessionTTLMinutes = 5
	}
	src := &fixedSource{answer: "123456", ttl: time.Minute}
	s := NewServer(opts.cfg, ServerDeps{
		Resolver:    settings.NewResolver(settings.Static{Settings: opts.snap}),
		Factory:     &provider.DefaultFactory{Loader: okLoader{}, Source: src, Secret: []byte("test-secret")},
		Secret:      []byte("test-secret"),
		RateLimiter: opts.limiter,
		AdminAPIKey: opts.admin,
	})
	return s, src
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateSessionMountsPreferredProvider(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox, domain.ProviderTurnstile)})

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", map[string]string{"preferred_provider": "turnstile"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.ID == "" {
		t.Fatalf("expected a session id")
	}
	if resp.Status.Active != domain.ProviderTurnstile {
		t.Fatalf("expected turnstile active, got %q", resp.Status.Active)
	}
	if resp.Status.Chain[len(resp.Status.Chain)-1] != domain.ProviderInternal {
		t.Fatalf("expected internal provider last in chain, got %v", resp.Status.Chain)
	}
}

func TestCreateSessionUnknownProvider(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox)})

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", map[string]string{"preferred_provider": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestKillSwitchSessionAutoPasses(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: domain.SafeDefault()})

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if !resp.Disabled || !resp.Verified {
		t.Fatalf("expected disabled auto-pass, got %+v", resp)
	}
	if resp.Token != domain.DisabledToken {
		t.Fatalf("expected sentinel token, got %q", resp.Token)
	}
}

func TestProviderEventVerified(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox)})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))

	// The widget script loads asynchronously; retry delivery until the
	// adapter accepts the token.
	waitFor(t, "token delivery", func() bool {
		w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/events", map[string]string{
			"provider": "checkbox",
			"event":    "verified",
			"token":    "tok-abc",
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
		}
		return decodeSession(t, doJSON(t, s, http.MethodGet, "/v1/captcha/sessions/"+created.ID, nil)).Verified
	})

	resp := decodeSession(t, doJSON(t, s, http.MethodGet, "/v1/captcha/sessions/"+created.ID, nil))
	if resp.Token != "tok-abc" || resp.Provider != domain.ProviderCheckbox {
		t.Fatalf("unexpected verification: %+v", resp)
	}
}

func TestProviderEventMismatch(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox)})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))
	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/events", map[string]string{
		"provider": "turnstile",
		"event":    "verified",
		"token":    "tok",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInternalChallengeFlow(t *testing.T) {
	// No remote providers configured: the chain degrades straight to the
	// internal challenge.
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings()})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))
	if created.Status.Active != domain.ProviderInternal {
		t.Fatalf("expected internal active, got %q", created.Status.Active)
	}
	if created.Internal == nil || created.Internal.ChallengeID != "ch-1" {
		t.Fatalf("expected internal snapshot for ch-1, got %+v", created.Internal)
	}

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/input", map[string]string{"input": "999999"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeSession(t, w); resp.Internal == nil || !resp.Internal.Failed {
		t.Fatalf("expected failed flag after wrong answer, got %+v", resp.Internal)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/input", map[string]string{"input": "123456"})
	resp := decodeSession(t, w)
	if !resp.Verified || resp.Provider != domain.ProviderInternal {
		t.Fatalf("expected internal verification, got %+v", resp)
	}
	if resp.Token == "" || resp.Token == domain.DisabledToken {
		t.Fatalf("expected a real proof token, got %q", resp.Token)
	}
}

func TestChallengeRefreshInvalidatesOldAnswer(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings()})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.Internal == nil || resp.Internal.ChallengeID == created.Internal.ChallengeID {
		t.Fatalf("expected a fresh challenge after refresh, got %+v", resp.Internal)
	}
}

func TestSessionResetClearsVerification(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings()})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))
	doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/input", map[string]string{"input": "123456"})

	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/reset", nil)
	resp := decodeSession(t, w)
	if resp.Verified || resp.Token != "" {
		t.Fatalf("expected cleared verification after reset, got %+v", resp)
	}
	if resp.Status.Epoch != 1 {
		t.Fatalf("expected epoch 1 after reset, got %d", resp.Status.Epoch)
	}
}

func TestSessionNotFound(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox)})

	w := doJSON(t, s, http.MethodGet, "/v1/captcha/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPublicSettingsOmitDisabledProviders(t *testing.T) {
	snap := enabledSettings(domain.ProviderCheckbox)
	snap.Providers[domain.ProviderTurnstile] = domain.ProviderSettings{Enabled: true} // no site key
	s, _ := newTestServer(t, serverOpts{snap: snap})

	w := doJSON(t, s, http.MethodGet, "/v1/captcha/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp publicSettingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if !resp.Enabled {
		t.Fatalf("expected enabled settings")
	}
	if _, ok := resp.Providers[domain.ProviderCheckbox]; !ok {
		t.Fatalf("expected checkbox in providers, got %v", resp.Providers)
	}
	if _, ok := resp.Providers[domain.ProviderTurnstile]; ok {
		t.Fatalf("turnstile has no site key and must be omitted, got %v", resp.Providers)
	}
}

func TestStandaloneChallenge(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings()})

	w := doJSON(t, s, http.MethodGet, "/v1/captcha/challenge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp challengeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if resp.CaptchaID == "" || resp.Length != 6 {
		t.Fatalf("unexpected challenge response: %+v", resp)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("image is not a PNG: %v", err)
	}

	// A wrong guess burns the challenge.
	w = doJSON(t, s, http.MethodPost, "/v1/captcha/challenge/verify", verifyRequest{CaptchaID: resp.CaptchaID, Answer: "000000"})
	if w.Code != http.StatusUnprocessableEntity && w.Code != http.StatusOK {
		t.Fatalf("expected mismatch or coincidental pass, got %d", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, "/v1/captcha/challenge/verify", verifyRequest{CaptchaID: resp.CaptchaID, Answer: "000000"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on burned challenge, got %d", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox), admin: "secret-key"})

	w := doJSON(t, s, http.MethodGet, "/v1/admin/captcha/settings", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/captcha/settings", nil)
	req.Header.Set("X-Admin-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox)})

	w := doJSON(t, s, http.MethodGet, "/v1/admin/captcha/settings", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin key unset, got %d", w.Code)
	}
}

func TestAdminPutBroadcastsKillSwitch(t *testing.T) {
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(domain.ProviderCheckbox), admin: "secret-key"})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(domain.SafeDefault()); err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/captcha/settings", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "session auto-pass", func() bool {
		resp := decodeSession(t, doJSON(t, s, http.MethodGet, "/v1/captcha/sessions/"+created.ID, nil))
		return resp.Disabled && resp.Token == domain.DisabledToken
	})
}

func TestRateLimitOnInput(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	cfg := config.Config{RateLimitRequests: 2, RateLimitWindowSeconds: 60}
	s, _ := newTestServer(t, serverOpts{snap: enabledSettings(), cfg: cfg, limiter: limiter})

	created := decodeSession(t, doJSON(t, s, http.MethodPost, "/v1/captcha/sessions", nil))
	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/input", map[string]string{"input": "1"})
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := doJSON(t, s, http.MethodPost, "/v1/captcha/sessions/"+created.ID+"/input", map[string]string{"input": "1"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
