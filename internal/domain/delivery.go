package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a ledger entry.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSent              Status = "SENT"
	StatusDelivered         Status = "DELIVERED"
	StatusClicked           Status = "CLICKED"
	StatusRead              Status = "READ"
	StatusBounced           Status = "BOUNCED"
	StatusFailed            Status = "FAILED"
	StatusPermanentlyFailed Status = "PERMANENTLY_FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusClicked,
		StatusRead, StatusBounced, StatusFailed, StatusPermanentlyFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed for the entry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusClicked, StatusRead, StatusBounced, StatusPermanentlyFailed:
		return true
	}
	return false
}

// Rank orders statuses along the forward direction of the lifecycle graph.
// Webhook events whose target status does not rank above the current status
// are ignored, so out-of-order provider events cannot regress an entry.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusFailed, StatusBounced:
		return 2
	case StatusDelivered:
		return 3
	case StatusClicked, StatusRead:
		return 4
	case StatusPermanentlyFailed:
		return 5
	}
	return -1
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Provider identifies the external delivery service behind an adapter.
type Provider string

const (
	ProviderMobilePush  Provider = "mobile-push-v1"
	ProviderBrowserPush Provider = "browser-push"
	ProviderSMSCarrier  Provider = "sms-carrier"
	ProviderEmail       Provider = "email-carrier"
	ProviderInApp       Provider = "in-app"
)

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	switch p {
	case ProviderMobilePush, ProviderBrowserPush, ProviderSMSCarrier, ProviderEmail, ProviderInApp:
		return true
	}
	return false
}

func ParseProviderFromString(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid provider %q", ErrValidation, s)
	}
	return p, nil
}

// MaxRetries caps automatic re-sends of a failed delivery.
const MaxRetries = 3

// Payload is the opaque notification content handed to adapters. Data carries
// channel-specific fields (deep link, icon, email subject overrides).
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: payload requires a title or body", ErrValidation)
	}
	return nil
}

// DeliveryLog is one ledger row per (notification, target) pair. Rows are
// created before the provider call and are never deleted.
type DeliveryLog struct {
	ID                string
	DealershipID      string
	NotificationID    string
	UserID            string
	Channel           Channel
	Status            Status
	Provider          Provider
	ProviderMessageID *string
	Title             string
	Body              string
	CreatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ClickedAt         *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
	FirstFailedAt     *time.Time
	LatencyMS         *int64
	RetryCount        int
	NonRetryable      bool
	ErrorMessage      *string
	ErrorCode         *string
	Metadata          map[string]string
}

func (d *DeliveryLog) Validate() error {
	if d.NotificationID == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if d.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !d.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, d.Channel)
	}
	if !d.Provider.IsValid() {
		return fmt.Errorf("%w: invalid provider %q", ErrValidation, d.Provider)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, d.Status)
	}
	if d.RetryCount < 0 || d.RetryCount > MaxRetries {
		return fmt.Errorf("%w: retry count %d out of range", ErrValidation, d.RetryCount)
	}
	return nil
}

// TimestampField returns the ledger column name that records when the given
// status was reached, or "" for statuses without a dedicated timestamp.
func TimestampField(s Status) string {
	switch s {
	case StatusSent:
		return "sent_at"
	case StatusDelivered:
		return "delivered_at"
	case StatusClicked:
		return "clicked_at"
	case StatusRead:
		return "read_at"
	case StatusFailed, StatusBounced, StatusPermanentlyFailed:
		return "failed_at"
	}
	return ""
}
