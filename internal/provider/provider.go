// Package provider implements the uniform lifecycle contract shared by
// every verification mechanism. The orchestrator only ever speaks this
// contract; adding a provider means adding an adapter, nothing else.
package provider

import (
	"time"

	"captchad/internal/domain"
)

// Events is the sink an adapter reports through. Exactly one of the three
// outcomes fires per completed attempt. Every callback carries the reset
// epoch the work started under so stale completions can be discarded.
type Events interface {
	Verified(p domain.ProviderType, epoch int64, token, challengeID string)
	Errored(p domain.ProviderType, epoch int64)
	Expired(p domain.ProviderType, epoch int64)
}

// Adapter is the capability set every concrete provider implements.
//
// Mount begins acquiring the verification surface. Reset discards any
// in-flight or completed proof and re-arms without tearing the surface
// down when avoidable. Unmount releases everything Mount acquired and is
// safe to call even if Mount never completed.
type Adapter interface {
	Type() domain.ProviderType
	Mount(siteKey string, epoch int64)
	Reset(epoch int64)
	Unmount()
}

// Factory builds adapters on demand; the orchestrator mounts at most one
// at a time.
type Factory interface {
	New(p domain.ProviderType, events Events) Adapter
}

// DefaultLoadTimeout bounds how long a remote script load may take before
// it is treated as an error rather than a hang.
const DefaultLoadTimeout = 10 * time.Second

// DefaultProofTTL is how long a delivered remote proof stays fresh before
// the adapter treats it as aged out.
const DefaultProofTTL = 110 * time.Second
