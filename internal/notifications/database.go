package notifications

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

// CreateBatch writes one notification per recipient in a single
// transaction. When the batch carries a completed-trade update it also voids
// the redirect flag on every earlier ACTIVE-status notification of that
// trade, in the same transaction.
func (d *Database) CreateBatch(rows []types.Notification, voidRedirectsForTrade string) error {
	if len(rows) == 0 && voidRedirectsForTrade == "" {
		return nil
	}
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if voidRedirectsForTrade != "" {
		err := tx.Model(&types.Notification{}).
			Where("trade_id = ? AND trade_status = ?", voidRedirectsForTrade, types.TradeStatusActive).
			Update("is_redirectable", false).Error
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	for i := range rows {
		if err := tx.Create(&rows[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// RecentEquivalent finds a structurally equivalent notification for the same
// (recipient, trade, type) created at or after the cutoff.
func (d *Database) RecentEquivalent(recipientID, tradeID string, ntype types.NotificationType, cutoff time.Time) (*types.Notification, error) {
	var row types.Notification
	err := d.db.Where("recipient_id = ? AND trade_id = ? AND type = ? AND created_at >= ?",
		recipientID, tradeID, ntype, cutoff).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListFilter narrows a notification listing. TradeIDs is the entitlement
// scope: when set, only rows for those trades are visible, so pagination
// and totals count what the recipient may actually see.
type ListFilter struct {
	IsRead     *bool
	Type       types.NotificationType
	BeforeDate *time.Time
	TradeIDs   []string
}

// List returns one page of a recipient's notifications, newest first.
func (d *Database) List(recipientID string, filter ListFilter, page, pageSize int) ([]types.Notification, int64, error) {
	q := d.db.Model(&types.Notification{}).Where("recipient_id = ?", recipientID)
	if filter.IsRead != nil {
		q = q.Where("is_read = ?", *filter.IsRead)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.BeforeDate != nil {
		q = q.Where("created_at < ?", *filter.BeforeDate)
	}
	if filter.TradeIDs != nil {
		q = q.Where("trade_id IN ?", filter.TradeIDs)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []types.Notification
	err := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Get fetches one notification owned by the recipient.
func (d *Database) Get(recipientID, notificationID string) (*types.Notification, error) {
	var row types.Notification
	err := d.db.Where("recipient_id = ? AND notification_id = ?", recipientID, notificationID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// MarkRead flips the read flag. Idempotent.
func (d *Database) MarkRead(recipientID, notificationID string) error {
	result := d.db.Model(&types.Notification{}).
		Where("recipient_id = ? AND notification_id = ?", recipientID, notificationID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish missing from already-read.
		existing, err := d.Get(recipientID, notificationID)
		if err != nil {
			return err
		}
		if existing == nil {
			return types.WrapError(types.ErrNotFound, "notification %s not found", notificationID)
		}
	}
	return nil
}

// MarkAllRead marks every matching unread notification read. Idempotent.
func (d *Database) MarkAllRead(recipientID string, filter ListFilter) (int64, error) {
	q := d.db.Model(&types.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.BeforeDate != nil {
		q = q.Where("created_at < ?", *filter.BeforeDate)
	}
	result := q.Update("is_read", true)
	return result.RowsAffected, result.Error
}

// UnreadCount counts a recipient's unread notifications.
func (d *Database) UnreadCount(recipientID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}
