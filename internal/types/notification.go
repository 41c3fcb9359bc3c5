package types

import (
	"time"

	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationTrade    NotificationType = "TRADE"
	NotificationAnalysis NotificationType = "ANALYSIS"
	NotificationPrice    NotificationType = "PRICE"
	NotificationRisk     NotificationType = "RISK"
	NotificationInsight  NotificationType = "INSIGHT"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTrade, NotificationAnalysis, NotificationPrice, NotificationRisk, NotificationInsight:
		return true
	}
	return false
}

// Notification is the durable inbox mirror of one push event for one
// recipient. It snapshots trade status and instrument identity at emission
// time so the inbox renders without resolving references.
type Notification struct {
	gorm.Model     `json:"-"`
	NotificationID string           `gorm:"uniqueIndex" json:"notification_id"`
	RecipientID    string           `gorm:"index:idx_notification_recipient_read" json:"recipient_id"`
	TradeID        string           `gorm:"index" json:"trade_id"`
	Type           NotificationType `json:"type"`
	ShortMessage   string           `json:"short_message"`
	DetailMessage  string           `json:"detail_message"`
	TradeStatus    TradeStatus      `json:"trade_status"`
	Instrument     string           `json:"instrument"`
	Link           string           `json:"link,omitempty"`
	IsRead         bool             `gorm:"index:idx_notification_recipient_read" json:"is_read"`
	IsRedirectable bool             `json:"is_redirectable"`
	CreatedAt      time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
