package provider

import (
	"context"
	"strings"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/google/uuid"
)

// InAppAdapter handles the in-app channel. There is no external provider:
// the ledger row itself is the notification surfaced by the web app, so a
// send succeeds immediately with a locally minted message id. Read/click
// events arrive later through the in-app webhook when the UI reports them.
type InAppAdapter struct{}

func NewInAppAdapter() *InAppAdapter {
	return &InAppAdapter{}
}

func (a *InAppAdapter) Name() domain.Provider   { return domain.ProviderInApp }
func (a *InAppAdapter) Channel() domain.Channel { return domain.ChannelInApp }

func (a *InAppAdapter) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &SendResult{
		ProviderMessageID: uuid.NewString(),
		StatusCode:        0,
		Latency:           0,
	}, nil
}

func (a *InAppAdapter) MapEvent(eventType string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "delivered":
		return domain.StatusDelivered, true
	case "read":
		return domain.StatusRead, true
	case "clicked":
		return domain.StatusClicked, true
	}
	return "", false
}
