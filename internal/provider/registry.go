package provider

import (
	"fmt"

	"github.com/dealerops/notify-engine/internal/domain"
)

// Registry is the closed set of adapters keyed by channel and by provider
// name. A channel without a configured adapter fails dispatch fast with a
// configuration error instead of silently dropping the send.
type Registry struct {
	byChannel  map[domain.Channel]Adapter
	byProvider map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		byChannel:  make(map[domain.Channel]Adapter, len(adapters)),
		byProvider: make(map[domain.Provider]Adapter, len(adapters)),
	}

	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if !name.IsValid() {
			return nil, fmt.Errorf("%w: adapter has invalid provider name %q", domain.ErrValidation, name)
		}
		if _, exists := r.byProvider[name]; exists {
			return nil, fmt.Errorf("%w: duplicate adapter for provider %s", domain.ErrValidation, name)
		}
		r.byProvider[name] = adapter

		channel := adapter.Channel()
		if _, exists := r.byChannel[channel]; !exists {
			// First adapter registered for a channel is its default; the
			// push channel prefers mobile push when both are present.
			r.byChannel[channel] = adapter
		}
	}

	return r, nil
}

// ForChannel returns the default adapter for a channel.
func (r *Registry) ForChannel(channel domain.Channel) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: adapter registry is not initialized", domain.ErrConfiguration)
	}
	adapter, ok := r.byChannel[channel]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter configured for channel %s", domain.ErrConfiguration, channel)
	}
	return adapter, nil
}

// ForProvider returns the adapter matching a provider name, used both for
// routing a subscription's provider and for webhook event mapping.
func (r *Registry) ForProvider(name domain.Provider) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: adapter registry is not initialized", domain.ErrConfiguration)
	}
	adapter, ok := r.byProvider[name]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter configured for provider %s", domain.ErrConfiguration, name)
	}
	return adapter, nil
}

// ForSubscription resolves the adapter for a subscription, preferring its
// explicit provider and falling back to the channel default.
func (r *Registry) ForSubscription(sub domain.Subscription) (Adapter, error) {
	if sub.Provider.IsValid() {
		if adapter, err := r.ForProvider(sub.Provider); err == nil {
			return adapter, nil
		}
	}
	return r.ForChannel(sub.Channel)
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []domain.Provider {
	if r == nil {
		return nil
	}
	names := make([]domain.Provider, 0, len(r.byProvider))
	for name := range r.byProvider {
		names = append(names, name)
	}
	return names
}
