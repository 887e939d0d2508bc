package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/events"
	"github.com/dealerops/notify-engine/internal/observability"
	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/dealerops/notify-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event is the canonical shape of one provider callback after parsing.
// Data carries only the allow-listed detail fields; arbitrary provider
// payload properties are never copied into the ledger.
type Event struct {
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
}

// EventData is the allow-listed provider detail attached to an event.
type EventData struct {
	ProviderMessageID string `json:"provider_message_id"`
	MessageID         string `json:"message_id"`
	ErrorCode         string `json:"error_code"`
	ErrorMessage      string `json:"error_message"`
	Recipient         string `json:"recipient"`
}

func (d EventData) messageID() string {
	if id := strings.TrimSpace(d.ProviderMessageID); id != "" {
		return id
	}
	return strings.TrimSpace(d.MessageID)
}

type webhookBody struct {
	Provider string  `json:"provider"`
	Events   []Event `json:"events"`
	// Single-event providers post the event fields at the top level.
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// IngestResult aggregates the outcome of one webhook request. Events settle
// independently: one bad event never aborts its siblings.
type IngestResult struct {
	Processed  int
	Successful int
	Failed     int
}

// Ingestor applies provider delivery events to matching ledger entries.
type Ingestor struct {
	deliveries repository.DeliveryLogRepository
	registry   *provider.Registry
	publisher  events.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewIngestor(
	deliveries repository.DeliveryLogRepository,
	registry *provider.Registry,
	publisher events.Publisher,
	logger *zap.Logger,
) (*Ingestor, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingestor{
		deliveries: deliveries,
		registry:   registry,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (i *Ingestor) SetMetrics(metrics *observability.Metrics) {
	if i == nil {
		return
	}
	i.metrics = metrics
}

// ParseEvents decodes a webhook body into canonical events. A body may carry
// a batch under "events" or a single event at the top level.
func ParseEvents(rawBody []byte) ([]Event, error) {
	var body webhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook body: %v", domain.ErrValidation, err)
	}

	if len(body.Events) > 0 {
		return body.Events, nil
	}

	if strings.TrimSpace(body.EventType) == "" {
		return nil, fmt.Errorf("%w: webhook body carries no events", domain.ErrValidation)
	}

	event := Event{EventType: body.EventType}
	if len(body.Data) > 0 {
		if err := json.Unmarshal(body.Data, &event.Data); err != nil {
			return nil, fmt.Errorf("%w: malformed event data: %v", domain.ErrValidation, err)
		}
	}

	return []Event{event}, nil
}

// Ingest processes every event in the body concurrently with independent
// failure isolation and reports the aggregate tally. Webhook delivery is
// at-least-once, so applying the same event twice must settle to the same
// ledger state.
func (i *Ingestor) Ingest(ctx context.Context, providerName domain.Provider, rawBody []byte) (*IngestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	adapter, err := i.registry.ForProvider(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown webhook provider %q", domain.ErrValidation, providerName)
	}

	parsedEvents, err := ParseEvents(rawBody)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := &IngestResult{Processed: len(parsedEvents)}

	g, groupCtx := errgroup.WithContext(ctx)
	for idx := range parsedEvents {
		event := parsedEvents[idx]

		g.Go(func() error {
			outcome := i.applyEvent(groupCtx, adapter, event)

			mu.Lock()
			switch outcome {
			case eventApplied, eventNoop:
				result.Successful++
			case eventFailed:
				result.Failed++
			}
			mu.Unlock()

			if i.metrics != nil {
				i.metrics.IncWebhookEvent(adapter.Name().String(), outcome.String())
			}
			return nil
		})
	}

	_ = g.Wait()

	return result, nil
}

type eventOutcome int

const (
	eventApplied eventOutcome = iota
	eventNoop
	eventSkipped
	eventFailed
)

func (o eventOutcome) String() string {
	switch o {
	case eventApplied:
		return "applied"
	case eventNoop:
		return "noop"
	case eventSkipped:
		return "skipped"
	case eventFailed:
		return "failed"
	}
	return "unknown"
}

func (i *Ingestor) applyEvent(ctx context.Context, adapter provider.Adapter, event Event) eventOutcome {
	newStatus, ok := adapter.MapEvent(event.EventType)
	if !ok {
		i.logger.Info("unknown webhook event type, skipping",
			zap.String("provider", adapter.Name().String()),
			zap.String("eventType", event.EventType),
		)
		return eventSkipped
	}

	messageID := event.Data.messageID()
	if messageID == "" {
		i.logger.Warn("webhook event carries no provider message id",
			zap.String("provider", adapter.Name().String()),
			zap.String("eventType", event.EventType),
		)
		return eventFailed
	}

	entry, err := i.deliveries.GetByProviderMessageID(ctx, adapter.Name(), messageID)
	if errors.Is(err, domain.ErrNotFound) {
		// Webhooks legitimately arrive for messages this engine never
		// tracked, e.g. provider-side manual tests.
		i.logger.Info("webhook event for untracked message, skipping",
			zap.String("provider", adapter.Name().String()),
			zap.String("providerMessageId", messageID),
		)
		return eventFailed
	}
	if err != nil {
		i.logger.Error("failed to look up delivery by provider message id",
			zap.String("providerMessageId", messageID),
			zap.Error(err),
		)
		return eventFailed
	}

	// Forward-only: an out-of-order event whose target state does not rank
	// above the current one is ignored, which also makes redelivered
	// events idempotent.
	if newStatus.Rank() <= entry.Status.Rank() {
		return eventNoop
	}

	detail := detailFields(event.Data)
	at := i.now().UTC()

	applied, err := i.deliveries.ApplyStatus(ctx, entry.ID, entry.Status, newStatus, at, detail)
	if err != nil {
		i.logger.Error("failed to apply webhook status",
			zap.String("deliveryId", entry.ID),
			zap.String("status", newStatus.String()),
			zap.Error(err),
		)
		return eventFailed
	}
	if !applied {
		// A concurrent update won the race; the entry already moved on.
		return eventNoop
	}

	i.publishEvent(ctx, entry, newStatus, at)

	return eventApplied
}

func detailFields(data EventData) map[string]string {
	detail := make(map[string]string, 3)
	if data.ErrorCode != "" {
		detail["error_code"] = data.ErrorCode
	}
	if data.ErrorMessage != "" {
		detail["error_message"] = data.ErrorMessage
	}
	if data.Recipient != "" {
		detail["recipient"] = data.Recipient
	}
	return detail
}

func (i *Ingestor) publishEvent(ctx context.Context, entry *domain.DeliveryLog, status domain.Status, at time.Time) {
	event := events.DeliveryEvent{
		DeliveryID:     entry.ID,
		NotificationID: entry.NotificationID,
		DealershipID:   entry.DealershipID,
		UserID:         entry.UserID,
		Channel:        entry.Channel,
		Status:         status,
		OccurredAt:     at,
	}

	if err := i.publisher.Publish(ctx, event); err != nil {
		i.logger.Warn("failed to publish delivery event",
			zap.String("deliveryId", entry.ID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}
