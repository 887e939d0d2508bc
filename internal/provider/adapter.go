package provider

import (
	"context"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
)

// Adapter is the outbound delivery port for one provider family. MapEvent
// translates the provider's native webhook vocabulary into the canonical
// status set; unknown event types return ok=false and are skipped upstream.
type Adapter interface {
	Name() domain.Provider
	Channel() domain.Channel
	Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error)
	MapEvent(eventType string) (domain.Status, bool)
}

// SendResult stores provider acknowledgment metadata for the ledger.
type SendResult struct {
	ProviderMessageID string
	StatusCode        int
	Latency           time.Duration
}
