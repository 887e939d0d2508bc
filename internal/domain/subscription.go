package domain

import (
	"fmt"
	"strings"
	"time"
)

// Subscription is a per-channel delivery target: a browser push endpoint, a
// device token, a phone number, or an email address. Targets reported as
// permanently invalid by a provider are deactivated, never deleted.
type Subscription struct {
	ID           string
	DealershipID string
	UserID       string
	Channel      Channel
	Provider     Provider
	// Endpoint holds the push URL, device token, phone number, or email
	// address depending on the channel.
	Endpoint  string
	AuthKey   *string
	P256DHKey *string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, s.Channel)
	}
	if s.Channel != ChannelInApp && strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required for channel %s", ErrValidation, s.Channel)
	}
	return nil
}

// TargetSelector scopes a dispatch to a single user, a whole dealership, or
// an explicit user list. Exactly one selector should be set; UserIDs wins
// over UserID, which wins over DealershipID.
type TargetSelector struct {
	UserID       string
	UserIDs      []string
	DealershipID string
}

func (t TargetSelector) IsZero() bool {
	return t.UserID == "" && len(t.UserIDs) == 0 && t.DealershipID == ""
}
