package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"captchad/internal/domain"
)

// Script describes the third-party asset behind one remote provider. The
// element ID keeps injection idempotent: once a script has loaded it is
// never fetched again for the lifetime of the loader, no matter how many
// widget instances mount.
type Script struct {
	URL       string
	ElementID string
}

var remoteScripts = map[domain.ProviderType]Script{
	domain.ProviderFriendly: {
		URL:       "https://cdn.jsdelivr.net/npm/friendly-challenge@0.9.12/widget.min.js",
		ElementID: "friendly-challenge-script",
	},
	domain.ProviderScore: {
		URL:       "https://www.google.com/recaptcha/api.js?render=explicit",
		ElementID: "recaptcha-v3-script",
	},
	domain.ProviderCheckbox: {
		URL:       "https://www.google.com/recaptcha/api.js",
		ElementID: "recaptcha-v2-script",
	},
	domain.ProviderTurnstile: {
		URL:       "https://challenges.cloudflare.com/turnstile/v0/api.js",
		ElementID: "cf-turnstile-script",
	},
}

// ScriptLoader acquires a remote provider's script. Implementations must
// honor context cancellation and must not report back once cancelled.
type ScriptLoader interface {
	Load(ctx context.Context, script Script) error
}

// HTTPScriptLoader fetches provider scripts over HTTP and caches success
// per element ID, mirroring single-injection semantics across widgets.
type HTTPScriptLoader struct {
	Client *http.Client

	mu     sync.Mutex
	loaded map[string]bool
}

func NewHTTPScriptLoader() *HTTPScriptLoader {
	return &HTTPScriptLoader{
		Client: &http.Client{Timeout: DefaultLoadTimeout},
		loaded: make(map[string]bool),
	}
}

func (l *HTTPScriptLoader) Load(ctx context.Context, script Script) error {
	l.mu.Lock()
	if l.loaded[script.ElementID] {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, script.URL, nil)
	if err != nil {
		return err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("script %s: status %d", script.ElementID, resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}

	l.mu.Lock()
	l.loaded[script.ElementID] = true
	l.mu.Unlock()
	return nil
}

