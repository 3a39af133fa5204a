package provider

import (
	"captchad/internal/captcha"
	"captchad/internal/domain"
)

// DefaultFactory wires the production adapters: HTTP-loaded remote
// widgets plus the local challenge provider.
type DefaultFactory struct {
	Loader ScriptLoader
	Source captcha.Source
	Secret []byte
}

func NewDefaultFactory(source captcha.Source, secret []byte) *DefaultFactory {
	return &DefaultFactory{
		Loader: NewHTTPScriptLoader(),
		Source: source,
		Secret: secret,
	}
}

func (f *DefaultFactory) New(p domain.ProviderType, events Events) Adapter {
	if p == domain.ProviderInternal {
		return NewLocal(f.Source, f.Secret, events)
	}
	return NewRemote(p, f.Loader, events)
}
