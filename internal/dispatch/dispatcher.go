package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/events"
	"github.com/dealerops/notify-engine/internal/observability"
	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/dealerops/notify-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout = 15 * time.Second
	// subscriptionIDKey stores the exact target on the ledger entry so the
	// retry scheduler can reconstruct the send without re-resolving scope.
	subscriptionIDKey = "subscription_id"
	// payloadDataPrefix namespaces the channel-specific payload fields
	// snapshotted into entry metadata, keeping them reconstructible for
	// retries alongside title and body.
	payloadDataPrefix = "data."
)

type DispatchRequest struct {
	NotificationID string
	DealershipID   string
	Channel        domain.Channel
	Payload        domain.Payload
	Targets        domain.TargetSelector
}

func (r DispatchRequest) Validate() error {
	if strings.TrimSpace(r.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.DealershipID) == "" {
		return fmt.Errorf("%w: dealership id is required", domain.ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, r.Channel)
	}
	if r.Targets.IsZero() {
		return fmt.Errorf("%w: a target selector is required", domain.ErrValidation)
	}
	return r.Payload.Validate()
}

// DispatchResult aggregates per-target outcomes. Individual target failures
// never fail the dispatch as a whole.
type DispatchResult struct {
	Sent   int
	Failed int
	Total  int
}

// Dispatcher fans a logical notification out to every resolved target,
// writing a ledger entry before each provider call and recording the
// outcome after it.
type Dispatcher struct {
	deliveries    repository.DeliveryLogRepository
	subscriptions repository.SubscriptionRepository
	registry      *provider.Registry
	publisher     events.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	sendTimeout   time.Duration
	now           func() time.Time
}

func NewDispatcher(
	deliveries repository.DeliveryLogRepository,
	subscriptions repository.SubscriptionRepository,
	registry *provider.Registry,
	publisher events.Publisher,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		registry:      registry,
		publisher:     publisher,
		logger:        logger,
		sendTimeout:   sendTimeout,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch resolves the targets for a notification and sends to each of
// them concurrently with independent failure isolation: the aggregate is
// computed only after every attempt settles, and no target's failure aborts
// the others. Zero matching targets is a success with zero counts.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// A channel with no adapter at all is a total configuration failure
	// and surfaces as a hard error before any target is attempted.
	if _, err := d.registry.ForChannel(req.Channel); err != nil {
		return nil, err
	}

	ctx = observability.WithNotificationID(ctx, req.NotificationID)

	subs, err := d.subscriptions.GetActive(ctx, req.DealershipID, req.Targets, req.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return &DispatchResult{}, nil
	}

	var mu sync.Mutex
	result := &DispatchResult{Total: len(subs)}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range subs {
		sub := subs[i]

		g.Go(func() error {
			entry := d.newEntry(req, sub)

			// The ledger row exists before the provider call so a crash in
			// between never loses the audit trail. A failed write is logged
			// and the send proceeds regardless.
			if err := d.deliveries.Create(groupCtx, entry); err != nil {
				observability.WithContextLogger(d.logger, groupCtx).Error("failed to create delivery log entry",
					zap.String("userId", sub.UserID),
					zap.Error(err),
				)
			}

			sendErr := d.Attempt(groupCtx, entry, sub)

			mu.Lock()
			if sendErr == nil {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()

			// Per-target errors are counted, never propagated; returning
			// one would cancel the sibling sends.
			return nil
		})
	}

	_ = g.Wait()

	return result, nil
}

// Attempt performs a single provider send for an existing ledger entry and
// records the outcome. It is the shared path between dispatch fan-out and
// scheduler retries.
func (d *Dispatcher) Attempt(ctx context.Context, entry *domain.DeliveryLog, sub domain.Subscription) error {
	adapter, err := d.registry.ForSubscription(sub)
	if err != nil {
		d.recordFailure(ctx, entry, sub, "configuration", err.Error(), true, false)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	sendStart := d.now()
	sendResult, sendErr := adapter.Send(sendCtx, sub, PayloadFor(entry))
	if d.metrics != nil {
		d.metrics.ObserveProviderSendDuration(adapter.Name().String(), d.now().Sub(sendStart))
	}

	if sendErr != nil {
		gone := provider.IsTargetGone(sendErr)
		nonRetryable := !provider.IsTransient(sendErr)
		d.recordFailure(ctx, entry, sub, provider.ErrorCode(sendErr), sendErr.Error(), nonRetryable, gone)
		if d.metrics != nil {
			d.metrics.IncDispatchTarget(entry.Channel.String(), "failed")
		}
		return sendErr
	}

	messageID := ""
	latency := time.Duration(0)
	if sendResult != nil {
		messageID = sendResult.ProviderMessageID
		latency = sendResult.Latency
	}

	sentAt := d.now().UTC()
	if err := d.deliveries.MarkSent(ctx, entry.ID, messageID, sentAt, latency); err != nil {
		d.logger.Error("failed to mark delivery as sent",
			zap.String("deliveryId", entry.ID),
			zap.Error(err),
		)
	}
	entry.Status = domain.StatusSent
	if messageID != "" {
		entry.ProviderMessageID = &messageID
	}

	if d.metrics != nil {
		d.metrics.IncDispatchTarget(entry.Channel.String(), "sent")
	}
	d.publishEvent(ctx, entry, domain.StatusSent, sentAt)

	return nil
}

func (d *Dispatcher) recordFailure(
	ctx context.Context,
	entry *domain.DeliveryLog,
	sub domain.Subscription,
	errCode string,
	errMsg string,
	nonRetryable bool,
	targetGone bool,
) {
	failedAt := d.now().UTC()
	if err := d.deliveries.MarkFailed(ctx, entry.ID, errCode, errMsg, failedAt, nonRetryable); err != nil {
		d.logger.Error("failed to mark delivery as failed",
			zap.String("deliveryId", entry.ID),
			zap.Error(err),
		)
	}
	entry.Status = domain.StatusFailed

	if targetGone {
		if err := d.subscriptions.Deactivate(ctx, sub.ID); err != nil {
			d.logger.Error("failed to deactivate gone subscription",
				zap.String("subscriptionId", sub.ID),
				zap.Error(err),
			)
		} else {
			d.logger.Info("subscription deactivated after permanent target error",
				zap.String("subscriptionId", sub.ID),
				zap.String("provider", sub.Provider.String()),
			)
			if d.metrics != nil {
				d.metrics.IncTargetDeactivated(sub.Provider.String())
			}
		}
	}

	d.publishEvent(ctx, entry, domain.StatusFailed, failedAt)
}

func (d *Dispatcher) newEntry(req DispatchRequest, sub domain.Subscription) *domain.DeliveryLog {
	adapter, err := d.registry.ForSubscription(sub)
	providerName := sub.Provider
	if err == nil {
		providerName = adapter.Name()
	}

	metadata := map[string]string{subscriptionIDKey: sub.ID}
	for key, value := range req.Payload.Data {
		metadata[payloadDataPrefix+key] = value
	}

	return &domain.DeliveryLog{
		ID:             uuid.NewString(),
		DealershipID:   req.DealershipID,
		NotificationID: req.NotificationID,
		UserID:         sub.UserID,
		Channel:        req.Channel,
		Status:         domain.StatusPending,
		Provider:       providerName,
		Title:          req.Payload.Title,
		Body:           req.Payload.Body,
		CreatedAt:      d.now().UTC(),
		Metadata:       metadata,
	}
}

// PayloadFor rebuilds the adapter payload from a ledger entry, including the
// channel-specific data fields snapshotted at dispatch time.
func PayloadFor(entry *domain.DeliveryLog) domain.Payload {
	payload := domain.Payload{Title: entry.Title, Body: entry.Body}
	for key, value := range entry.Metadata {
		field, ok := strings.CutPrefix(key, payloadDataPrefix)
		if !ok {
			continue
		}
		if payload.Data == nil {
			payload.Data = make(map[string]string)
		}
		payload.Data[field] = value
	}
	return payload
}

// SubscriptionIDFor returns the target subscription recorded on a ledger
// entry at dispatch time.
func SubscriptionIDFor(entry *domain.DeliveryLog) (string, bool) {
	if entry == nil || entry.Metadata == nil {
		return "", false
	}
	id, ok := entry.Metadata[subscriptionIDKey]
	return id, ok && id != ""
}

func (d *Dispatcher) publishEvent(ctx context.Context, entry *domain.DeliveryLog, status domain.Status, at time.Time) {
	event := events.DeliveryEvent{
		DeliveryID:     entry.ID,
		NotificationID: entry.NotificationID,
		DealershipID:   entry.DealershipID,
		UserID:         entry.UserID,
		Channel:        entry.Channel,
		Status:         status,
		OccurredAt:     at,
	}

	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("failed to publish delivery event",
			zap.String("deliveryId", entry.ID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}
