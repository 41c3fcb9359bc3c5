package types

import (
	"time"

	"gorm.io/gorm"
)

// Subscription is one user's access to a plan tier over a time window.
// At most one subscription per user is active at any instant; saving a new
// active subscription deactivates older overlapping actives.
type Subscription struct {
	gorm.Model     `json:"-"`
	SubscriptionID string     `gorm:"uniqueIndex" json:"subscription_id"`
	UserID         string     `gorm:"index" json:"user_id"`
	Plan           PlanTier   `json:"plan"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Active         bool       `gorm:"index" json:"active"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	PaymentRef     string     `gorm:"uniqueIndex" json:"payment_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the subscription window.
func (s *Subscription) Validate() error {
	if !s.Plan.Valid() {
		return WrapError(ErrInvalidInput, "unknown plan %q", s.Plan)
	}
	if !s.EndTime.After(s.StartTime) {
		return WrapError(ErrInvalidInput, "subscription end %s not after start %s",
			s.EndTime.Format(time.RFC3339), s.StartTime.Format(time.RFC3339))
	}
	return nil
}

// CurrentAt reports whether the subscription is active and covers the instant t.
// A future-dated subscription is current once saved active; the new/previous
// split handles its start time.
func (s *Subscription) CurrentAt(t time.Time) bool {
	return s.Active && s.EndTime.After(t)
}
