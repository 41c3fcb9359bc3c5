package migrations

import (
	"gorm.io/gorm"
)

// AddQueryIndexes creates the composite indexes the entitlement resolver and
// inbox listings lean on. Raw SQL keeps control over index shape.
func AddQueryIndexes(db *gorm.DB) error {
	indexes := []string{
		// Entitlement scans filter on status/kind/tier in one pass
		`CREATE INDEX IF NOT EXISTS idx_trades_status_kind_tier
		 ON trades(status, kind, plan_tier)`,

		// New/previous split orders by creation time per scope
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at_status
		 ON trades(created_at, status)`,

		// Inbox listing: recipient + read flag, newest first
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created
		 ON notifications(recipient_id, created_at)`,

		// Price history is read newest-first per trade
		`CREATE INDEX IF NOT EXISTS idx_trade_histories_trade_recorded
		 ON trade_histories(trade_id, recorded_at)`,

		// Active-subscription lookup per user
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_active
		 ON subscriptions(user_id, active)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
