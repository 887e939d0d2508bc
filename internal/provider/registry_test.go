package provider

import (
	"errors"
	"testing"

	"github.com/dealerops/notify-engine/internal/domain"
)

func TestRegistryForChannel(t *testing.T) {
	t.Parallel()

	inApp := NewInAppAdapter()
	registry, err := NewRegistry(inApp)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	adapter, err := registry.ForChannel(domain.ChannelInApp)
	if err != nil {
		t.Fatalf("ForChannel() error = %v", err)
	}
	if adapter.Name() != domain.ProviderInApp {
		t.Fatalf("adapter name = %s, want %s", adapter.Name(), domain.ProviderInApp)
	}

	_, err = registry.ForChannel(domain.ChannelSMS)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing channel, got %v", err)
	}
}

func TestRegistryForProvider(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(NewInAppAdapter())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := registry.ForProvider(domain.ProviderInApp); err != nil {
		t.Fatalf("ForProvider() error = %v", err)
	}

	_, err = registry.ForProvider(domain.ProviderSMSCarrier)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRegistryRejectsDuplicateProvider(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(NewInAppAdapter(), NewInAppAdapter())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate adapter, got %v", err)
	}
}

func TestRegistryForSubscriptionPrefersExplicitProvider(t *testing.T) {
	t.Parallel()

	mobile := &MobilePushAdapter{}
	browser := &BrowserPushAdapter{}

	registry, err := NewRegistry(mobile, browser)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	adapter, err := registry.ForSubscription(domain.Subscription{
		Channel:  domain.ChannelPush,
		Provider: domain.ProviderBrowserPush,
	})
	if err != nil {
		t.Fatalf("ForSubscription() error = %v", err)
	}
	if adapter.Name() != domain.ProviderBrowserPush {
		t.Fatalf("adapter = %s, want %s", adapter.Name(), domain.ProviderBrowserPush)
	}

	// No explicit provider falls back to the channel default.
	adapter, err = registry.ForSubscription(domain.Subscription{Channel: domain.ChannelPush})
	if err != nil {
		t.Fatalf("ForSubscription() error = %v", err)
	}
	if adapter.Name() != domain.ProviderMobilePush {
		t.Fatalf("adapter = %s, want %s", adapter.Name(), domain.ProviderMobilePush)
	}
}
