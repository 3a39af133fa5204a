// Package orchestrator owns the verification state machine: which
// provider is active, which ones were already attempted in this epoch,
// and the kill-switch short-circuit. It mounts exactly one adapter at a
// time and absorbs every adapter-local failure; the host only ever sees
// "not yet verified" or "verified with token X".
package orchestrator

import (
	"log"
	"sync"

	"captchad/internal/chain"
	"captchad/internal/domain"
	"captchad/internal/provider"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateDisabled      State = "disabled"
	StateActive        State = "active"
)

// Callbacks is the host integration surface. OnVerify fires at most once
// per reset epoch with a real proof; an empty token means "cleared".
// OnDisabled, when registered, replaces the sentinel-token OnVerify under
// the kill switch. OnNotice carries the one-time degraded-to-internal
// advisory.
type Callbacks struct {
	OnVerify   func(v domain.Verification)
	OnDisabled func()
	OnNotice   func(message string)
}

// Orchestrator drives one widget session from settings snapshot to a
// verification value. It is safe for concurrent use; adapter callbacks
// arriving after a reset or fallback carry a stale epoch and are ignored.
type Orchestrator struct {
	factory provider.Factory
	cb      Callbacks

	mu               sync.Mutex
	settings         domain.CaptchaSettings
	preferred        domain.ProviderType
	state            State
	chain            chain.Chain
	active           provider.Adapter
	attempted        map[domain.ProviderType]bool
	epoch            int64
	verified         bool
	disabledHandled  bool
	degradedNotified bool
}

func New(settings domain.CaptchaSettings, preferred domain.ProviderType, factory provider.Factory, cb Callbacks) *Orchestrator {
	return &Orchestrator{
		factory:   factory,
		cb:        cb,
		settings:  settings.Normalized(),
		preferred: preferred,
		state:     StateUninitialized,
		attempted: make(map[domain.ProviderType]bool),
	}
}

// Start resolves the kill switch and mounts the head of the chain. It is
// idempotent for an already-started session.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.state != StateUninitialized {
		o.mu.Unlock()
		return
	}
	if !o.settings.Enabled {
		o.mu.Unlock()
		o.shortCircuitDisabled()
		return
	}
	o.chain = chain.Build(o.settings, o.preferred)
	o.state = StateActive
	o.attempted = make(map[domain.ProviderType]bool)
	head := o.chain[0]
	o.mu.Unlock()

	o.mount(head)
}

// shortCircuitDisabled synthesizes the bypass outcome once per epoch. No
// adapter is ever mounted while disabled.
func (o *Orchestrator) shortCircuitDisabled() {
	o.mu.Lock()
	o.state = StateDisabled
	if o.disabledHandled {
		o.mu.Unlock()
		return
	}
	o.disabledHandled = true
	o.verified = true
	o.mu.Unlock()

	if o.cb.OnDisabled != nil {
		o.cb.OnDisabled()
		return
	}
	if o.cb.OnVerify != nil {
		o.cb.OnVerify(domain.Verification{Token: domain.DisabledToken})
	}
}

// mount swaps the active adapter. The previous adapter is unmounted
// first, preserving the at-most-one-mounted invariant.
func (o *Orchestrator) mount(p domain.ProviderType) {
	o.mu.Lock()
	if o.state != StateActive {
		o.mu.Unlock()
		return
	}
	prev := o.active
	ad := o.factory.New(p, o)
	o.active = ad
	epoch := o.epoch
	key := o.settings.SiteKey(p)
	o.mu.Unlock()

	if prev != nil {
		prev.Unmount()
	}
	ad.Mount(key, epoch)
}

// Verified implements provider.Events.
func (o *Orchestrator) Verified(p domain.ProviderType, epoch int64, token, challengeID string) {
	o.mu.Lock()
	if !o.eventCurrentLocked(p, epoch) || o.verified || token == "" {
		o.mu.Unlock()
		return
	}
	o.verified = true
	o.mu.Unlock()

	if o.cb.OnVerify != nil {
		o.cb.OnVerify(domain.Verification{Token: token, ChallengeID: challengeID, Provider: p})
	}
}

// Errored implements provider.Events: the current provider is spent for
// this epoch, advance to the next unattempted chain entry.
func (o *Orchestrator) Errored(p domain.ProviderType, epoch int64) {
	o.mu.Lock()
	if !o.eventCurrentLocked(p, epoch) {
		o.mu.Unlock()
		return
	}
	if p == domain.ProviderInternal {
		// Nowhere further to fall back to.
		o.mu.Unlock()
		log.Printf("[orchestrator] internal provider reported an error; awaiting manual refresh")
		return
	}
	o.attempted[p] = true
	next := o.nextUnattemptedLocked()
	clearProof := o.verified
	o.verified = false
	notify := next == domain.ProviderInternal && !o.degradedNotified
	if notify {
		o.degradedNotified = true
	}
	o.mu.Unlock()

	log.Printf("[orchestrator] provider %s failed, falling back to %s", p, next)
	if clearProof && o.cb.OnVerify != nil {
		o.cb.OnVerify(domain.Verification{Provider: p})
	}
	if notify && o.cb.OnNotice != nil {
		o.cb.OnNotice("switched to internal verification")
	}
	o.mount(next)
}

// Expired implements provider.Events: the proof aged out. The session
// stays on the same provider; only the cleared state is surfaced.
func (o *Orchestrator) Expired(p domain.ProviderType, epoch int64) {
	o.mu.Lock()
	if !o.eventCurrentLocked(p, epoch) {
		o.mu.Unlock()
		return
	}
	o.verified = false
	o.mu.Unlock()

	if o.cb.OnVerify != nil {
		o.cb.OnVerify(domain.Verification{Provider: p})
	}
}

func (o *Orchestrator) eventCurrentLocked(p domain.ProviderType, epoch int64) bool {
	return o.state == StateActive && o.epoch == epoch && o.active != nil && o.active.Type() == p
}

// nextUnattemptedLocked walks the chain for the first entry not yet
// attempted; exhaustion lands on the internal provider.
func (o *Orchestrator) nextUnattemptedLocked() domain.ProviderType {
	for _, p := range o.chain {
		if !o.attempted[p] {
			return p
		}
	}
	return domain.ProviderInternal
}

// Reset requests a fresh proof: a new epoch, cleared attempts, the chain
// re-armed at its head. Hosts call this after a failed form submission
// without remounting the widget.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	epoch := o.epoch
	wasVerified := o.verified
	o.verified = false
	o.disabledHandled = false
	o.degradedNotified = false
	o.attempted = make(map[domain.ProviderType]bool)
	state := o.state
	var head domain.ProviderType
	var sameHead bool
	if state == StateActive && len(o.chain) > 0 {
		head = o.chain[0]
		sameHead = o.active != nil && o.active.Type() == head
	}
	active := o.active
	o.mu.Unlock()

	if wasVerified && o.cb.OnVerify != nil {
		o.cb.OnVerify(domain.Verification{})
	}

	switch state {
	case StateDisabled:
		o.shortCircuitDisabled()
	case StateActive:
		if sameHead {
			active.Reset(epoch)
			return
		}
		o.mount(head)
	default:
		// Not started yet; Start will pick up the new epoch.
	}
}

// ApplySettings installs a new snapshot (admin toggled something at
// runtime). The chain is rebuilt; a changed chain remounts at its head
// with attempts cleared, an identical one leaves the session untouched.
func (o *Orchestrator) ApplySettings(settings domain.CaptchaSettings) {
	settings = settings.Normalized()

	o.mu.Lock()
	o.settings = settings
	if o.state == StateUninitialized {
		o.mu.Unlock()
		return
	}
	if !settings.Enabled {
		prev := o.active
		o.active = nil
		o.chain = nil
		o.mu.Unlock()
		if prev != nil {
			prev.Unmount()
		}
		o.shortCircuitDisabled()
		return
	}

	rebuilt := chain.Build(settings, o.preferred)
	if o.state == StateActive && rebuilt.Equal(o.chain) {
		o.mu.Unlock()
		return
	}
	o.chain = rebuilt
	o.state = StateActive
	o.attempted = make(map[domain.ProviderType]bool)
	o.verified = false
	o.degradedNotified = false
	// New epoch: in-flight work from the outgoing adapter must not land
	// in the rebuilt session.
	o.epoch++
	head := rebuilt[0]
	o.mu.Unlock()

	o.mount(head)
}

// Close releases the active adapter. The orchestrator cannot be restarted
// afterwards; sessions are created per widget mount.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	prev := o.active
	o.active = nil
	o.state = StateUninitialized
	o.mu.Unlock()
	if prev != nil {
		prev.Unmount()
	}
}

// Status is the observable session state.
type Status struct {
	State    State                 `json:"state"`
	Active   domain.ProviderType   `json:"active,omitempty"`
	Chain    []domain.ProviderType `json:"chain,omitempty"`
	Epoch    int64                 `json:"epoch"`
	Verified bool                  `json:"verified"`
	Degraded bool                  `json:"degraded"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:    o.state,
		Chain:    o.chain,
		Epoch:    o.epoch,
		Verified: o.verified,
		Degraded: o.degradedNotified,
	}
	if o.active != nil {
		st.Active = o.active.Type()
	}
	return st
}

// activeAdapter returns the mounted adapter when it matches p.
func (o *Orchestrator) activeAdapter(p domain.ProviderType) (provider.Adapter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateActive || o.active == nil {
		return nil, domain.ErrProviderMismatch
	}
	if p != "" && o.active.Type() != p {
		return nil, domain.ErrProviderMismatch
	}
	return o.active, nil
}

// DeliverToken feeds a host-collected remote widget token to the active
// adapter. Tokens for a provider that is no longer active are dropped.
func (o *Orchestrator) DeliverToken(p domain.ProviderType, token string) error {
	ad, err := o.activeAdapter(p)
	if err != nil {
		return err
	}
	r, ok := ad.(*provider.Remote)
	if !ok {
		return domain.ErrProviderMismatch
	}
	r.Deliver(token)
	return nil
}

// ReportWidgetError relays an execution error from the host widget.
func (o *Orchestrator) ReportWidgetError(p domain.ProviderType) error {
	ad, err := o.activeAdapter(p)
	if err != nil {
		return err
	}
	r, ok := ad.(*provider.Remote)
	if !ok {
		return domain.ErrProviderMismatch
	}
	r.Fail()
	return nil
}

// ReportWidgetExpired relays the widget's own expired callback.
func (o *Orchestrator) ReportWidgetExpired(p domain.ProviderType) error {
	ad, err := o.activeAdapter(p)
	if err != nil {
		return err
	}
	r, ok := ad.(*provider.Remote)
	if !ok {
		return domain.ErrProviderMismatch
	}
	r.ExpireNow()
	return nil
}

// SubmitInput feeds live typing to the internal challenge.
func (o *Orchestrator) SubmitInput(text string) error {
	ad, err := o.activeAdapter(domain.ProviderInternal)
	if err != nil {
		return err
	}
	l, ok := ad.(*provider.Local)
	if !ok {
		return domain.ErrProviderMismatch
	}
	return l.Input(text)
}

// RefreshChallenge discards the current internal challenge for a new one.
func (o *Orchestrator) RefreshChallenge() error {
	ad, err := o.activeAdapter(domain.ProviderInternal)
	if err != nil {
		return err
	}
	l, ok := ad.(*provider.Local)
	if !ok {
		return domain.ErrProviderMismatch
	}
	l.Refresh()
	return nil
}

// LocalSnapshot exposes the internal widget view when it is active.
func (o *Orchestrator) LocalSnapshot() (provider.LocalSnapshot, bool) {
	ad, err := o.activeAdapter(domain.ProviderInternal)
	if err != nil {
		return provider.LocalSnapshot{}, false
	}
	l, ok := ad.(*provider.Local)
	if !ok {
		return provider.LocalSnapshot{}, false
	}
	return l.Snapshot(), true
}
