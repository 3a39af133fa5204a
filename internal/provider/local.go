package provider

import (
	"context"
	"log"
	"sync"
	"time"

	"captchad/internal/captcha"
	"captchad/internal/domain"
)

// DefaultTickInterval drives the expiry countdown of the local challenge.
const DefaultTickInterval = 2 * time.Second

// Local is the terminal fallback adapter. It has no external dependency:
// mounting synthesizes a visual challenge, validation happens in-process,
// and expiry re-arms behind a manual refresh instead of escalating.
type Local struct {
	source captcha.Source
	secret []byte
	events Events
	tick   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	epoch    int64
	mounted  bool
	ch       domain.Challenge
	input    string
	failed   bool
	expired  bool
	verified bool
	stop     chan struct{}
}

func NewLocal(source captcha.Source, secret []byte, events Events) *Local {
	return &Local{
		source: source,
		secret: secret,
		events: events,
		tick:   DefaultTickInterval,
		now:    time.Now,
	}
}

func (l *Local) Type() domain.ProviderType { return domain.ProviderInternal }

// Mount synthesizes the first challenge. The site key is unused: the
// local provider is the one entry in the chain with nothing to configure.
func (l *Local) Mount(_ string, epoch int64) {
	l.mu.Lock()
	l.epoch = epoch
	l.mounted = true
	l.mu.Unlock()
	l.rearm(epoch)
}

func (l *Local) rearm(epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := l.source.Next(ctx, l.now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.mounted || l.epoch != epoch {
		return
	}
	l.stopWatchdogLocked()
	if err != nil {
		// Generation is local and should not fail; leave the widget in
		// the expired state so a manual refresh can retry.
		log.Printf("[provider] internal challenge generation failed: %v", err)
		l.expired = true
		return
	}
	l.ch = ch
	l.input = ""
	l.failed = false
	l.expired = false
	l.verified = false
	l.startWatchdogLocked(epoch)
}

func (l *Local) startWatchdogLocked(epoch int64) {
	stop := make(chan struct{})
	l.stop = stop
	go func() {
		t := time.NewTicker(l.tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if l.checkExpiry(epoch) {
					return
				}
			}
		}
	}()
}

func (l *Local) stopWatchdogLocked() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// checkExpiry fires the expiry transition at most once per challenge.
func (l *Local) checkExpiry(epoch int64) bool {
	l.mu.Lock()
	if !l.mounted || l.epoch != epoch || l.expired {
		l.mu.Unlock()
		return true
	}
	if !l.ch.Expired(l.now()) {
		l.mu.Unlock()
		return false
	}
	l.expired = true
	l.verified = false
	l.input = ""
	l.mu.Unlock()

	l.events.Expired(domain.ProviderInternal, epoch)
	return true
}

// Input feeds the user's live typing. Input shorter than the answer is
// pending; full-length input either verifies or surfaces the inline
// mismatch state without discarding the challenge.
func (l *Local) Input(text string) error {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if l.expired || l.ch.Expired(l.now()) {
		l.expired = true
		l.mu.Unlock()
		return domain.ErrChallengeExpired
	}
	l.input = text
	err := captcha.Validate(l.ch, text, l.now())
	l.failed = err == domain.ErrChallengeMismatch
	solved := err == nil && captcha.Solved(l.ch, text, l.now())
	var token string
	epoch := l.epoch
	ch := l.ch
	if solved {
		l.verified = true
		token = captcha.Token(l.secret, ch)
	}
	l.mu.Unlock()

	if solved {
		l.events.Verified(domain.ProviderInternal, epoch, token, ch.ID)
		return nil
	}
	return err
}

// Refresh discards the current challenge and issues a new one, clearing
// input and error state. Used both for the user's "new image" affordance
// and for orchestrator resets.
func (l *Local) Refresh() {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	epoch := l.epoch
	l.mu.Unlock()
	l.rearm(epoch)
}

// Reset re-arms under a new epoch; the previous challenge id no longer
// validates afterwards.
func (l *Local) Reset(epoch int64) {
	l.mu.Lock()
	if !l.mounted {
		l.mu.Unlock()
		return
	}
	l.epoch = epoch
	l.mu.Unlock()
	l.rearm(epoch)
}

func (l *Local) Unmount() {
	l.mu.Lock()
	l.mounted = false
	l.verified = false
	l.stopWatchdogLocked()
	l.mu.Unlock()
}

// Snapshot is the UI-facing view of the widget: the rendered image, the
// countdown fraction and the inline error/expiry flags.
type LocalSnapshot struct {
	ChallengeID       string  `json:"challenge_id"`
	ImagePNG          []byte  `json:"image_png"`
	Length            int     `json:"length"`
	RemainingFraction float64 `json:"remaining_fraction"`
	Expired           bool    `json:"expired"`
	Failed            bool    `json:"failed"`
	Verified          bool    `json:"verified"`
}

func (l *Local) Snapshot() LocalSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := LocalSnapshot{
		ChallengeID: l.ch.ID,
		ImagePNG:    l.ch.ImagePNG,
		Length:      len(l.ch.Answer),
		Expired:     l.expired,
		Failed:      l.failed,
		Verified:    l.verified,
	}
	if !l.expired {
		snap.RemainingFraction = l.ch.RemainingFraction(l.now())
	}
	return snap
}
