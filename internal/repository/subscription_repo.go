package repository

import (
	"context"
	"errors"

	"github.com/dealerops/notify-engine/internal/domain"
	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	GetActive(ctx context.Context, dealershipID string, selector domain.TargetSelector, channel domain.Channel) ([]domain.Subscription, error)
	Deactivate(ctx context.Context, id string) error
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	model := subscriptionModelFromDomain(sub)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if sub != nil {
		*sub = *subscriptionModelToDomain(model)
	}
	return nil
}

func (r *GormSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

// GetActive resolves the active subscriptions matched by a target selector.
// An explicit user id list wins over a single user id, which wins over the
// whole-dealership scope.
func (r *GormSubscriptionRepo) GetActive(
	ctx context.Context,
	dealershipID string,
	selector domain.TargetSelector,
	channel domain.Channel,
) ([]domain.Subscription, error) {
	query := r.db.WithContext(ctx).
		Where("dealership_id = ? AND channel = ? AND is_active = true", dealershipID, channel)

	switch {
	case len(selector.UserIDs) > 0:
		query = query.Where("user_id IN ?", selector.UserIDs)
	case selector.UserID != "":
		query = query.Where("user_id = ?", selector.UserID)
	case selector.DealershipID != "":
		// Whole-dealership scope; already bounded by dealership_id above.
	default:
		return nil, nil
	}

	var models []SubscriptionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subs = append(subs, *subscriptionModelToDomain(&models[i]))
	}

	return subs, nil
}

func (r *GormSubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
