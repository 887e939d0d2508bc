package migrations

import (
	"github.com/dealerops/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_delivery_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryLogModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Webhook correlation: one ledger row per provider message.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_logs_provider_message ON delivery_logs (provider, provider_message_id) WHERE provider_message_id IS NOT NULL`,
					// Retry scan: failed, retryable rows ordered by original failure time.
					`CREATE INDEX IF NOT EXISTS idx_delivery_logs_retry ON delivery_logs (first_failed_at) WHERE status = 'FAILED' AND non_retryable = false`,
					`CREATE INDEX IF NOT EXISTS idx_delivery_logs_status_channel_created ON delivery_logs (status, channel, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryLogModel{})
			},
		},
		{
			ID: "000002_create_subscriptions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.SubscriptionModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_subscriptions_active_lookup ON subscriptions (dealership_id, channel) WHERE is_active = true`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SubscriptionModel{})
			},
		},
	})

	return m.Migrate()
}
