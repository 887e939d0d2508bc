package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/dealerops/notify-engine/internal/repository"
	"go.uber.org/zap"
)

type fakeLedger struct {
	mu        sync.Mutex
	eligible  []domain.DeliveryLog
	stranded  int64
	retried   []string
	permanent []string

	markRetryingFn func(id string) error
}

func (f *fakeLedger) Create(ctx context.Context, entry *domain.DeliveryLog) error { return nil }

func (f *fakeLedger) GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeLedger) GetByProviderMessageID(ctx context.Context, p domain.Provider, id string) (*domain.DeliveryLog, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeLedger) List(ctx context.Context, params repository.ListParams) ([]domain.DeliveryLog, int64, error) {
	return nil, 0, nil
}

func (f *fakeLedger) MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time, latency time.Duration) error {
	return nil
}

func (f *fakeLedger) MarkFailed(ctx context.Context, id string, errCode string, errMsg string, failedAt time.Time, nonRetryable bool) error {
	return nil
}

func (f *fakeLedger) MarkRetrying(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markRetryingFn != nil {
		if err := f.markRetryingFn(id); err != nil {
			return err
		}
	}
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeLedger) MarkPermanentlyFailed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permanent = append(f.permanent, id)
	return nil
}

func (f *fakeLedger) ApplyStatus(ctx context.Context, id string, from domain.Status, to domain.Status, at time.Time, detail map[string]string) (bool, error) {
	return false, nil
}

func (f *fakeLedger) GetRetryEligible(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryLog, error) {
	return f.eligible, nil
}

func (f *fakeLedger) SweepExhausted(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	swept := f.stranded
	f.stranded = 0
	return swept, nil
}

type fakeSubs struct {
	subs map[string]*domain.Subscription
}

func (f *fakeSubs) Create(ctx context.Context, sub *domain.Subscription) error { return nil }

func (f *fakeSubs) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubs) GetActive(ctx context.Context, dealershipID string, selector domain.TargetSelector, channel domain.Channel) ([]domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubs) Deactivate(ctx context.Context, id string) error { return nil }

type fakeSender struct {
	mu       sync.Mutex
	attempts []string
	sendFn   func(entry *domain.DeliveryLog) error
}

func (f *fakeSender) Attempt(ctx context.Context, entry *domain.DeliveryLog, sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, entry.ID)
	if f.sendFn != nil {
		return f.sendFn(entry)
	}
	return nil
}

type fakeLimiter struct {
	mu     sync.Mutex
	waits  []string
	waitFn func(provider string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, provider string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, provider)
	if f.waitFn != nil {
		return f.waitFn(provider)
	}
	return nil
}

func failedEntry(id string, subID string, retryCount int) domain.DeliveryLog {
	return domain.DeliveryLog{
		ID:             id,
		NotificationID: "n-1",
		DealershipID:   "d-1",
		UserID:         "u-1",
		Channel:        domain.ChannelSMS,
		Provider:       domain.ProviderSMSCarrier,
		Status:         domain.StatusFailed,
		RetryCount:     retryCount,
		Metadata:       map[string]string{"subscription_id": subID},
	}
}

func activeSub(id string) *domain.Subscription {
	return &domain.Subscription{
		ID:           id,
		UserID:       "u-1",
		DealershipID: "d-1",
		Channel:      domain.ChannelSMS,
		Endpoint:     "+15550001111",
		IsActive:     true,
	}
}

func newTestScheduler(t *testing.T, ledger *fakeLedger, subs *fakeSubs, sender *fakeSender, limiter *fakeLimiter) *Scheduler {
	t.Helper()

	scheduler, err := NewScheduler(ledger, subs, sender, limiter, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return scheduler
}

func TestRunOnceRequeuesEligibleEntry(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{failedEntry("e-1", "s-1", 0)}}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	sender := &fakeSender{}
	limiter := &fakeLimiter{}

	scheduler := newTestScheduler(t, ledger, subs, sender, limiter)

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Evaluated != 1 || report.Requeued != 1 || report.Exhausted != 0 {
		t.Fatalf("report = %+v, want {1 1 0}", report)
	}
	if len(ledger.retried) != 1 || ledger.retried[0] != "e-1" {
		t.Fatalf("retried = %v, want [e-1]", ledger.retried)
	}
	if len(sender.attempts) != 1 {
		t.Fatalf("attempts = %v, want one", sender.attempts)
	}
	if len(limiter.waits) != 1 || limiter.waits[0] != domain.ProviderSMSCarrier.String() {
		t.Fatalf("limiter waits = %v, want one per-provider wait", limiter.waits)
	}
}

func TestRunOnceExhaustsInactiveSubscription(t *testing.T) {
	t.Parallel()

	inactive := activeSub("s-1")
	inactive.IsActive = false

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{failedEntry("e-1", "s-1", 1)}}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": inactive}}
	sender := &fakeSender{}

	scheduler := newTestScheduler(t, ledger, subs, sender, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Evaluated != 1 || report.Requeued != 0 || report.Exhausted != 1 {
		t.Fatalf("report = %+v, want {1 0 1}", report)
	}
	if len(sender.attempts) != 0 {
		t.Fatal("no send should be attempted for a deactivated target")
	}
	if len(ledger.permanent) != 1 || ledger.permanent[0] != "e-1" {
		t.Fatalf("permanent = %v, want [e-1]", ledger.permanent)
	}
}

func TestRunOnceExhaustsEntryWithoutSubscription(t *testing.T) {
	t.Parallel()

	entry := failedEntry("e-1", "s-1", 0)
	entry.Metadata = nil

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{entry}}
	scheduler := newTestScheduler(t, ledger, &fakeSubs{}, &fakeSender{}, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Exhausted != 1 {
		t.Fatalf("exhausted = %d, want 1", report.Exhausted)
	}
}

func TestRunOnceKeepsTransientFailureRetryable(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{failedEntry("e-1", "s-1", 0)}}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	sender := &fakeSender{
		sendFn: func(entry *domain.DeliveryLog) error {
			return &provider.ProviderError{StatusCode: 503, Message: "unavailable", Transient: true}
		},
	}

	scheduler := newTestScheduler(t, ledger, subs, sender, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	// One retry consumed, two left: the entry stays failed for a later tier.
	if report.Requeued != 1 || report.Exhausted != 0 {
		t.Fatalf("report = %+v, want requeued without exhaustion", report)
	}
	if len(ledger.permanent) != 0 {
		t.Fatalf("permanent = %v, want none", ledger.permanent)
	}
}

func TestRunOnceExhaustsFinalFailedAttempt(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{failedEntry("e-1", "s-1", domain.MaxRetries-1)}}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	sender := &fakeSender{
		sendFn: func(entry *domain.DeliveryLog) error {
			return &provider.ProviderError{StatusCode: 503, Message: "unavailable", Transient: true}
		},
	}

	scheduler := newTestScheduler(t, ledger, subs, sender, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Requeued != 1 || report.Exhausted != 1 {
		t.Fatalf("report = %+v, want final attempt requeued and exhausted", report)
	}
	if len(ledger.permanent) != 1 {
		t.Fatalf("permanent = %v, want [e-1]", ledger.permanent)
	}
}

func TestRunOnceExhaustsNonTransientFailure(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{eligible: []domain.DeliveryLog{failedEntry("e-1", "s-1", 0)}}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	sender := &fakeSender{
		sendFn: func(entry *domain.DeliveryLog) error {
			return errors.New("malformed payload rejected")
		},
	}

	scheduler := newTestScheduler(t, ledger, subs, sender, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Exhausted != 1 {
		t.Fatalf("exhausted = %d, want 1 for a non-transient failure", report.Exhausted)
	}
}

func TestRunOnceSweepsStrandedEntries(t *testing.T) {
	t.Parallel()

	// Entries left at retry_count == MaxRetries by an interrupted run are
	// below the eligibility cutoff; the sweep moves them terminal.
	ledger := &fakeLedger{stranded: 2}
	scheduler := newTestScheduler(t, ledger, &fakeSubs{}, &fakeSender{}, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Evaluated != 0 || report.Requeued != 0 || report.Exhausted != 2 {
		t.Fatalf("report = %+v, want swept entries counted exhausted", report)
	}
}

func TestRunOnceSkipsConflictedEntry(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		eligible:       []domain.DeliveryLog{failedEntry("e-1", "s-1", 0)},
		markRetryingFn: func(id string) error { return domain.ErrConflict },
	}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	sender := &fakeSender{}

	scheduler := newTestScheduler(t, ledger, subs, sender, &fakeLimiter{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if report.Evaluated != 1 || report.Requeued != 0 || report.Exhausted != 0 {
		t.Fatalf("report = %+v, want entry evaluated but untouched", report)
	}
	if len(sender.attempts) != 0 {
		t.Fatal("conflicted entry must not be re-sent")
	}
}

func TestRunOnceStopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		eligible: []domain.DeliveryLog{
			failedEntry("e-1", "s-1", 0),
			failedEntry("e-2", "s-1", 0),
		},
	}
	subs := &fakeSubs{subs: map[string]*domain.Subscription{"s-1": activeSub("s-1")}}
	limiter := &fakeLimiter{
		waitFn: func(provider string) error { return context.Canceled },
	}

	scheduler := newTestScheduler(t, ledger, subs, &fakeSender{}, limiter)

	report, err := scheduler.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when the rate limiter is cancelled")
	}
	if report.Evaluated != 1 {
		t.Fatalf("evaluated = %d, want 1 before aborting", report.Evaluated)
	}
	if len(ledger.retried) != 0 {
		t.Fatal("no entry should be retried after limiter failure")
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(nil, &fakeSubs{}, &fakeSender{}, &fakeLimiter{}, 0, nil); err == nil {
		t.Fatal("expected error for nil delivery repository")
	}
	if _, err := NewScheduler(&fakeLedger{}, nil, &fakeSender{}, &fakeLimiter{}, 0, nil); err == nil {
		t.Fatal("expected error for nil subscription repository")
	}
	if _, err := NewScheduler(&fakeLedger{}, &fakeSubs{}, nil, &fakeLimiter{}, 0, nil); err == nil {
		t.Fatal("expected error for nil sender")
	}
	if _, err := NewScheduler(&fakeLedger{}, &fakeSubs{}, &fakeSender{}, nil, 0, nil); err == nil {
		t.Fatal("expected error for nil rate limiter")
	}
}
