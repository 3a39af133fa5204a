package provider

import (
	"context"
	"log"
	"sync"
	"time"

	"captchad/internal/domain"
)

// Remote adapts one script-backed provider to the Adapter contract. The
// widget lifecycle is: load the script within a bounded timeout, then
// wait for the host to deliver the provider's outcome. A delivered proof
// ages out after proofTTL; the first expiry self-resets and surfaces as
// Expired, a second one escalates as an error so the orchestrator can
// fall back.
type Remote struct {
	ptype  domain.ProviderType
	script Script
	loader ScriptLoader
	events Events

	loadTimeout time.Duration
	proofTTL    time.Duration

	mu          sync.Mutex
	epoch       int64
	mounted     bool
	ready       bool
	token       string
	expiredOnce bool
	cancel      context.CancelFunc
	expiryTimer *time.Timer
}

func NewRemote(ptype domain.ProviderType, loader ScriptLoader, events Events) *Remote {
	return &Remote{
		ptype:       ptype,
		script:      remoteScripts[ptype],
		loader:      loader,
		events:      events,
		loadTimeout: DefaultLoadTimeout,
		proofTTL:    DefaultProofTTL,
	}
}

func (r *Remote) Type() domain.ProviderType { return r.ptype }

// Mount starts the script load. The load is tagged with the epoch active
// now; a completion that arrives after a reset or unmount is discarded.
func (r *Remote) Mount(siteKey string, epoch int64) {
	r.mu.Lock()
	r.epoch = epoch
	r.mounted = true
	r.ready = false
	r.token = ""
	r.expiredOnce = false
	ctx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
	r.cancel = cancel
	r.mu.Unlock()

	if siteKey == "" {
		// Chain construction excludes keyless providers; reaching here
		// means the snapshot changed underneath us. Treat as unavailable,
		// asynchronously so Mount never re-enters the caller.
		cancel()
		go r.events.Errored(r.ptype, epoch)
		return
	}

	go func() {
		defer cancel()
		err := r.loader.Load(ctx, r.script)

		r.mu.Lock()
		stale := !r.mounted || r.epoch != epoch
		if !stale && err == nil {
			r.ready = true
		}
		r.mu.Unlock()
		if stale {
			return
		}
		if err != nil {
			log.Printf("[provider] %s script load failed: %v", r.ptype, err)
			r.events.Errored(r.ptype, epoch)
		}
	}()
}

// Deliver hands the adapter the widget outcome produced on the host page.
// An empty token is an execution failure.
func (r *Remote) Deliver(token string) {
	r.mu.Lock()
	if !r.mounted || !r.ready {
		r.mu.Unlock()
		return
	}
	epoch := r.epoch
	if token == "" {
		r.mu.Unlock()
		r.events.Errored(r.ptype, epoch)
		return
	}
	r.token = token
	r.armExpiryLocked(epoch)
	r.mu.Unlock()

	r.events.Verified(r.ptype, epoch, token, "")
}

// Fail reports an execution error from the host widget.
func (r *Remote) Fail() {
	r.mu.Lock()
	mounted, epoch := r.mounted, r.epoch
	r.mu.Unlock()
	if mounted {
		r.events.Errored(r.ptype, epoch)
	}
}

// ExpireNow is the host-reported variant of proof aging (widgets surface
// their own expired callback before our conservative timer fires).
func (r *Remote) ExpireNow() {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return
	}
	epoch := r.epoch
	r.token = ""
	first := !r.expiredOnce
	r.expiredOnce = true
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	r.mu.Unlock()

	if first {
		r.events.Expired(r.ptype, epoch)
		return
	}
	r.events.Errored(r.ptype, epoch)
}

func (r *Remote) armExpiryLocked(epoch int64) {
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
	}
	r.expiryTimer = time.AfterFunc(r.proofTTL, func() {
		r.mu.Lock()
		if !r.mounted || r.epoch != epoch || r.token == "" {
			r.mu.Unlock()
			return
		}
		r.token = ""
		first := !r.expiredOnce
		r.expiredOnce = true
		r.mu.Unlock()

		if first {
			r.events.Expired(r.ptype, epoch)
			return
		}
		r.events.Errored(r.ptype, epoch)
	})
}

// Reset re-arms for a fresh attempt without reloading the script.
func (r *Remote) Reset(epoch int64) {
	r.mu.Lock()
	r.epoch = epoch
	r.token = ""
	r.expiredOnce = false
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	r.mu.Unlock()
}

// Unmount cancels pending work and drops all state. Safe to call before
// the mount ever completed.
func (r *Remote) Unmount() {
	r.mu.Lock()
	r.mounted = false
	r.ready = false
	r.token = ""
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	r.mu.Unlock()
}
