package entitlement

import (
	"time"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// SubscriptionSource resolves a user's active subscription at an instant.
type SubscriptionSource interface {
	ActiveSubscription(userID string, at time.Time) (*types.Subscription, error)
}

// UserAccess looks a user's subscription up and resolves their accessible
// trade set in one call. Read paths that only know a user id use it instead
// of carrying a pinned subscription around.
type UserAccess struct {
	resolver *Resolver
	subs     SubscriptionSource
}

func NewUserAccess(resolver *Resolver, subs SubscriptionSource) *UserAccess {
	return &UserAccess{resolver: resolver, subs: subs}
}

func (a *UserAccess) AccessibleTradeIDsForUser(userID string, at time.Time) (map[string]bool, error) {
	sub, err := a.subs.ActiveSubscription(userID, at)
	if err != nil {
		return nil, err
	}
	decision, err := a.resolver.AccessibleTradeIDs(sub)
	if err != nil {
		return nil, err
	}
	return decision.Set(), nil
}
