package subscriptions

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveSubscription persists a subscription, deactivating any older active
// subscription of the same user whose window overlaps the new one. Runs in a
// single transaction so the one-active-per-user invariant holds under
// parallel writers.
func (d *Database) SaveSubscription(sub *types.Subscription) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if sub.Active {
		err := tx.Model(&types.Subscription{}).
			Where("user_id = ? AND active = ? AND subscription_id <> ?", sub.UserID, true, sub.SubscriptionID).
			Where("start_time < ? AND end_time > ?", sub.EndTime, sub.StartTime).
			Update("active", false).Error
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Save(sub).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetActiveSubscription returns the user's subscription that is active and
// unexpired at the given instant, or nil if none exists.
func (d *Database) GetActiveSubscription(userID string, at time.Time) (*types.Subscription, error) {
	var sub types.Subscription
	err := d.db.Where("user_id = ? AND active = ? AND end_time > ?", userID, true, at).
		Order("start_time DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetByPaymentRef looks a subscription up by its payment reference.
func (d *Database) GetByPaymentRef(ref string) (*types.Subscription, error) {
	var sub types.Subscription
	err := d.db.Where("payment_ref = ?", ref).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// DeactivateExpired flips the active flag off on subscriptions whose window
// has lapsed. Reads already exclude expired rows by end_time; the flag sweep
// keeps the table honest for ad-hoc queries and reporting.
func (d *Database) DeactivateExpired(at time.Time) (int64, error) {
	result := d.db.Model(&types.Subscription{}).
		Where("active = ? AND end_time <= ?", true, at).
		Update("active", false)
	return result.RowsAffected, result.Error
}

// ActiveSubscribers returns every user id holding an active, unexpired
// subscription, with the subscription itself. Used by the change emitter to
// compute eligible recipients once per event.
func (d *Database) ActiveSubscribers(at time.Time) ([]types.Subscription, error) {
	var subs []types.Subscription
	err := d.db.Where("active = ? AND end_time > ?", true, at).
		Order("user_id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
