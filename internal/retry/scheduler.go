package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dealerops/notify-engine/internal/dispatch"
	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/observability"
	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/dealerops/notify-engine/internal/ratelimit"
	"github.com/dealerops/notify-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultScanLimit = 200

// Sender is the single-target re-send path of the dispatcher.
type Sender interface {
	Attempt(ctx context.Context, entry *domain.DeliveryLog, sub domain.Subscription) error
}

// Report tallies one scheduler run. Requeued counts re-send attempts issued;
// Exhausted counts entries moved to permanently_failed, including entries
// whose final re-send attempt failed in this run and entries swept after
// being stranded with no retry budget left.
type Report struct {
	Evaluated int
	Requeued  int
	Exhausted int
}

// Scheduler re-sends retry-eligible failed deliveries. Runs are triggered on
// an external schedule and are assumed non-overlapping; the engine performs
// no distributed locking of its own.
type Scheduler struct {
	deliveries    repository.DeliveryLogRepository
	subscriptions repository.SubscriptionRepository
	sender        Sender
	limiter       ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	limit         int
	now           func() time.Time
}

func NewScheduler(
	deliveries repository.DeliveryLogRepository,
	subscriptions repository.SubscriptionRepository,
	sender Sender,
	limiter ratelimit.RateLimiter,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		sender:        sender,
		limiter:       limiter,
		logger:        logger,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// RunOnce scans the ledger for failed entries whose backoff tier has elapsed
// and re-sends each through the dispatcher's single-target path. Provider
// calls within a run are spaced by the shared rate limiter so a large batch
// does not trip provider-side throttling.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	report := &Report{}

	// Failed entries with no retries left exist only when a previous run
	// died between the final attempt and recording the exhaustion; sweep
	// them terminal before scanning for eligible work.
	swept, err := s.deliveries.SweepExhausted(ctx)
	if err != nil {
		s.logger.Warn("failed to sweep exhausted deliveries", zap.Error(err))
	} else if swept > 0 {
		report.Exhausted += int(swept)
		s.logger.Info("swept stranded deliveries to permanently failed",
			zap.Int64("count", swept),
		)
	}

	entries, err := s.deliveries.GetRetryEligible(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return report, fmt.Errorf("failed to fetch retry-eligible deliveries: %w", err)
	}

	for i := range entries {
		entry := entries[i]
		report.Evaluated++

		sub, ok := s.resolveTarget(ctx, &entry)
		if !ok {
			s.exhaust(ctx, &entry, report)
			continue
		}

		if err := s.limiter.Wait(ctx, entry.Provider.String()); err != nil {
			// Context cancellation ends the run; remaining entries stay
			// eligible for the next one.
			return report, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		// Consume one retry and start a fresh send cycle. A conflict means
		// another run already picked the entry up.
		if err := s.deliveries.MarkRetrying(ctx, entry.ID); err != nil {
			s.logger.Warn("skipping retry, entry no longer eligible",
				zap.String("deliveryId", entry.ID),
				zap.Error(err),
			)
			continue
		}
		entry.RetryCount++
		entry.Status = domain.StatusPending

		report.Requeued++
		if s.metrics != nil {
			s.metrics.IncRetryRequeued(entry.Provider.String())
		}

		sendErr := s.sender.Attempt(ctx, &entry, *sub)
		if sendErr == nil {
			continue
		}

		if entry.RetryCount >= domain.MaxRetries || !provider.IsTransient(sendErr) {
			s.exhaust(ctx, &entry, report)
		}
	}

	return report, nil
}

// resolveTarget reconstructs the original subscription for a failed entry.
// A missing or deactivated target makes further retries futile.
func (s *Scheduler) resolveTarget(ctx context.Context, entry *domain.DeliveryLog) (*domain.Subscription, bool) {
	subID, ok := dispatch.SubscriptionIDFor(entry)
	if !ok {
		s.logger.Warn("failed delivery has no recorded subscription",
			zap.String("deliveryId", entry.ID),
		)
		return nil, false
	}

	sub, err := s.subscriptions.GetByID(ctx, subID)
	if err != nil {
		s.logger.Warn("failed to load subscription for retry",
			zap.String("deliveryId", entry.ID),
			zap.String("subscriptionId", subID),
			zap.Error(err),
		)
		return nil, false
	}
	if !sub.IsActive {
		return nil, false
	}

	return sub, true
}

func (s *Scheduler) exhaust(ctx context.Context, entry *domain.DeliveryLog, report *Report) {
	if err := s.deliveries.MarkPermanentlyFailed(ctx, entry.ID); err != nil {
		s.logger.Error("failed to mark delivery permanently failed",
			zap.String("deliveryId", entry.ID),
			zap.Error(err),
		)
		return
	}

	report.Exhausted++
	if s.metrics != nil {
		s.metrics.IncRetryExhausted(entry.Provider.String())
	}
	s.logger.Info("delivery retries exhausted",
		zap.String("deliveryId", entry.ID),
		zap.Int("retryCount", entry.RetryCount),
	)
}
