package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// retryBackoffTiers is the minimum elapsed time since the original failure
// before the Nth retry becomes eligible, indexed by current retry count.
var retryBackoffTiers = [domain.MaxRetries]time.Duration{
	1 * time.Hour,
	4 * time.Hour,
	12 * time.Hour,
}

// RetryBackoffTier returns the backoff tier for a retry count, clamped to the
// last tier.
func RetryBackoffTier(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retryBackoffTiers) {
		retryCount = len(retryBackoffTiers) - 1
	}
	return retryBackoffTiers[retryCount]
}

type ListParams struct {
	Status         *domain.Status
	Channel        *domain.Channel
	NotificationID *string
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *domain.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error)
	GetByProviderMessageID(ctx context.Context, provider domain.Provider, providerMsgID string) (*domain.DeliveryLog, error)
	List(ctx context.Context, params ListParams) ([]domain.DeliveryLog, int64, error)
	MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time, latency time.Duration) error
	MarkFailed(ctx context.Context, id string, errCode string, errMsg string, failedAt time.Time, nonRetryable bool) error
	MarkRetrying(ctx context.Context, id string) error
	MarkPermanentlyFailed(ctx context.Context, id string) error
	ApplyStatus(ctx context.Context, id string, from domain.Status, to domain.Status, at time.Time, detail map[string]string) (bool, error)
	GetRetryEligible(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryLog, error)
	SweepExhausted(ctx context.Context) (int64, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, entry *domain.DeliveryLog) error {
	model := deliveryModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error) {
	var model DeliveryLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryLogRepo) GetByProviderMessageID(
	ctx context.Context,
	provider domain.Provider,
	providerMsgID string,
) (*domain.DeliveryLog, error) {
	var model DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_message_id = ?", provider, providerMsgID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryLogRepo) List(ctx context.Context, params ListParams) ([]domain.DeliveryLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryLogModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.NotificationID != nil {
		query = query.Where("notification_id = ?", *params.NotificationID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeliveryLogModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormDeliveryLogRepo) MarkSent(
	ctx context.Context,
	id string,
	providerMsgID string,
	sentAt time.Time,
	latency time.Duration,
) error {
	latencyMS := latency.Milliseconds()
	updates := map[string]any{
		"status":     domain.StatusSent,
		"sent_at":    sentAt,
		"latency_ms": latencyMS,
	}
	if providerMsgID != "" {
		// provider_message_id is immutable once set; COALESCE keeps the
		// first value if a retry already assigned one.
		updates["provider_message_id"] = gorm.Expr("COALESCE(provider_message_id, ?)", providerMsgID)
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryLogRepo) MarkFailed(
	ctx context.Context,
	id string,
	errCode string,
	errMsg string,
	failedAt time.Time,
	nonRetryable bool,
) error {
	updates := map[string]any{
		"status":          domain.StatusFailed,
		"failed_at":       failedAt,
		"first_failed_at": gorm.Expr("COALESCE(first_failed_at, ?)", failedAt),
		"error_code":      errCode,
		"error_message":   errMsg,
	}
	if nonRetryable {
		updates["non_retryable"] = true
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRetrying moves a failed entry back to pending for a fresh send cycle
// and consumes one retry. The guard keeps concurrent scheduler runs from
// double-incrementing the same entry.
func (r *GormDeliveryLogRepo) MarkRetrying(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ? AND status = ? AND non_retryable = false AND retry_count < ?", id, domain.StatusFailed, domain.MaxRetries).
		Updates(map[string]any{
			"status":      domain.StatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryLogRepo) MarkPermanentlyFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ?", id).
		Update("status", domain.StatusPermanentlyFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyStatus applies a webhook-reported status transition. The WHERE guard
// on the expected current status makes concurrent applications settle to a
// single winner; a false return means the entry moved on already.
func (r *GormDeliveryLogRepo) ApplyStatus(
	ctx context.Context,
	id string,
	from domain.Status,
	to domain.Status,
	at time.Time,
	detail map[string]string,
) (bool, error) {
	updates, err := statusUpdateColumns(to, at, detail)
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SweepExhausted moves failed entries that can never be retried again into
// the terminal permanently_failed status: retry budget spent, or flagged
// non-retryable. It catches entries stranded when a run died between the
// final failed attempt and recording the exhaustion.
func (r *GormDeliveryLogRepo) SweepExhausted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("status = ? AND (retry_count >= ? OR non_retryable = true)", domain.StatusFailed, domain.MaxRetries).
		Update("status", domain.StatusPermanentlyFailed)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// statusUpdateColumns builds the column set for a webhook-applied status
// transition. A failure reported by webhook anchors first_failed_at exactly
// like a send-time failure does, so the entry enters the retry scan.
func statusUpdateColumns(to domain.Status, at time.Time, detail map[string]string) (map[string]any, error) {
	updates := map[string]any{
		"status": to,
	}
	if column := domain.TimestampField(to); column != "" {
		updates[column] = at
	}
	if to == domain.StatusFailed {
		updates["first_failed_at"] = gorm.Expr("COALESCE(first_failed_at, ?)", at)
	}
	if code, ok := detail["error_code"]; ok && code != "" {
		updates["error_code"] = code
	}
	if msg, ok := detail["error_message"]; ok && msg != "" {
		updates["error_message"] = msg
	}
	if payload := metadataDetail(detail); len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		updates["metadata"] = gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(raw))
	}
	return updates, nil
}

func metadataDetail(detail map[string]string) map[string]string {
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		if k == "error_code" || k == "error_message" {
			continue
		}
		out[k] = v
	}
	return out
}

func (r *GormDeliveryLogRepo) GetRetryEligible(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND non_retryable = false AND retry_count < ?", domain.StatusFailed, domain.MaxRetries).
		Where(`first_failed_at <= CASE retry_count
			WHEN 0 THEN ?::timestamptz
			WHEN 1 THEN ?::timestamptz
			ELSE ?::timestamptz END`,
			now.Add(-retryBackoffTiers[0]),
			now.Add(-retryBackoffTiers[1]),
			now.Add(-retryBackoffTiers[2]),
		).
		Order("first_failed_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryModelToDomain(&models[i]))
	}

	return entries, nil
}
