package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
)

// JSONMap stores an open string key/value bag as a jsonb column.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}

	return json.Unmarshal(raw, m)
}

// DeliveryLogModel is the persistence model for the delivery_logs table.
type DeliveryLogModel struct {
	ID                string          `gorm:"type:uuid;primaryKey"`
	DealershipID      string          `gorm:"type:varchar(36);not null;index"`
	NotificationID    string          `gorm:"type:varchar(36);not null;index"`
	UserID            string          `gorm:"type:varchar(36);not null"`
	Channel           domain.Channel  `gorm:"type:varchar(10);not null"`
	Status            domain.Status   `gorm:"type:varchar(20);not null"`
	Provider          domain.Provider `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string         `gorm:"type:varchar(255)"`
	Title             string          `gorm:"type:text;not null"`
	Body              string          `gorm:"type:text;not null"`
	CreatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ClickedAt         *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
	FirstFailedAt     *time.Time
	LatencyMS         *int64  `gorm:"column:latency_ms"`
	RetryCount        int     `gorm:"not null;default:0"`
	NonRetryable      bool    `gorm:"not null;default:false"`
	ErrorMessage      *string `gorm:"type:text"`
	ErrorCode         *string `gorm:"type:varchar(64)"`
	Metadata          JSONMap `gorm:"type:jsonb"`
}

func (DeliveryLogModel) TableName() string {
	return "delivery_logs"
}

// SubscriptionModel is the persistence model for the subscriptions table.
type SubscriptionModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	DealershipID string          `gorm:"type:varchar(36);not null;index"`
	UserID       string          `gorm:"type:varchar(36);not null;index"`
	Channel      domain.Channel  `gorm:"type:varchar(10);not null"`
	Provider     domain.Provider `gorm:"type:varchar(20);not null"`
	Endpoint     string          `gorm:"type:text;not null"`
	AuthKey      *string         `gorm:"type:text"`
	P256DHKey    *string         `gorm:"type:text;column:p256dh_key"`
	IsActive     bool            `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

func deliveryModelFromDomain(d *domain.DeliveryLog) *DeliveryLogModel {
	if d == nil {
		return nil
	}

	return &DeliveryLogModel{
		ID:                d.ID,
		DealershipID:      d.DealershipID,
		NotificationID:    d.NotificationID,
		UserID:            d.UserID,
		Channel:           d.Channel,
		Status:            d.Status,
		Provider:          d.Provider,
		ProviderMessageID: d.ProviderMessageID,
		Title:             d.Title,
		Body:              d.Body,
		CreatedAt:         d.CreatedAt,
		SentAt:            d.SentAt,
		DeliveredAt:       d.DeliveredAt,
		ClickedAt:         d.ClickedAt,
		ReadAt:            d.ReadAt,
		FailedAt:          d.FailedAt,
		FirstFailedAt:     d.FirstFailedAt,
		LatencyMS:         d.LatencyMS,
		RetryCount:        d.RetryCount,
		NonRetryable:      d.NonRetryable,
		ErrorMessage:      d.ErrorMessage,
		ErrorCode:         d.ErrorCode,
		Metadata:          JSONMap(d.Metadata),
	}
}

func deliveryModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryLog{
		ID:                m.ID,
		DealershipID:      m.DealershipID,
		NotificationID:    m.NotificationID,
		UserID:            m.UserID,
		Channel:           m.Channel,
		Status:            m.Status,
		Provider:          m.Provider,
		ProviderMessageID: m.ProviderMessageID,
		Title:             m.Title,
		Body:              m.Body,
		CreatedAt:         m.CreatedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		ClickedAt:         m.ClickedAt,
		ReadAt:            m.ReadAt,
		FailedAt:          m.FailedAt,
		FirstFailedAt:     m.FirstFailedAt,
		LatencyMS:         m.LatencyMS,
		RetryCount:        m.RetryCount,
		NonRetryable:      m.NonRetryable,
		ErrorMessage:      m.ErrorMessage,
		ErrorCode:         m.ErrorCode,
		Metadata:          map[string]string(m.Metadata),
	}
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:           s.ID,
		DealershipID: s.DealershipID,
		UserID:       s.UserID,
		Channel:      s.Channel,
		Provider:     s.Provider,
		Endpoint:     s.Endpoint,
		AuthKey:      s.AuthKey,
		P256DHKey:    s.P256DHKey,
		IsActive:     s.IsActive,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:           m.ID,
		DealershipID: m.DealershipID,
		UserID:       m.UserID,
		Channel:      m.Channel,
		Provider:     m.Provider,
		Endpoint:     m.Endpoint,
		AuthKey:      m.AuthKey,
		P256DHKey:    m.P256DHKey,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
