// Package entitlement decides which trades a user may see and receive
// updates for, given their active subscription. Every read path and the
// push fan-out funnel through it.
package entitlement

import (
	"sort"
	"time"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// Plan quotas. Unlimited plans report -1.
const (
	basicMaxNew        = 6
	basicMaxPrevious   = 6
	premiumMaxNew      = 9
	premiumMaxPrevious = 6
	maxPrevious        = 6
	unlimited          = -1
)

// TradeSource is the slice of the trade store the resolver reads. It returns
// every trade a set of plan levels may surface (ACTIVE/COMPLETED at one of
// the tiers, plus free calls at any tier), ordered by created_at then trade
// id ascending.
type TradeSource interface {
	ListSurfacedTrades(tiers []types.PlanTier) ([]types.Trade, error)
}

// Resolver computes trade accessibility decisions.
type Resolver struct {
	source TradeSource
}

func NewResolver(source TradeSource) *Resolver {
	return &Resolver{source: source}
}

// PlanLevels returns the plan tiers a subscriber on the given plan sees.
func PlanLevels(plan types.PlanTier) []types.PlanTier {
	switch plan {
	case types.PlanBasic:
		return []types.PlanTier{types.PlanBasic}
	case types.PlanPremium:
		return []types.PlanTier{types.PlanBasic, types.PlanPremium}
	case types.PlanSuperPremium, types.PlanFreeTrial:
		return []types.PlanTier{types.PlanBasic, types.PlanPremium, types.PlanSuperPremium}
	}
	return nil
}

// PlanLimits returns the per-plan quota block.
func PlanLimits(plan types.PlanTier) types.TradeCounts {
	switch plan {
	case types.PlanBasic:
		return types.TradeCounts{New: basicMaxNew, Previous: basicMaxPrevious, Total: basicMaxNew + basicMaxPrevious}
	case types.PlanPremium:
		return types.TradeCounts{New: premiumMaxNew, Previous: premiumMaxPrevious, Total: premiumMaxNew + premiumMaxPrevious}
	}
	return types.TradeCounts{New: unlimited, Previous: unlimited, Total: unlimited}
}

// Decision is the resolved accessible-trade sets for one user. New and
// Previous contain trade ids in their selection order and include free-call
// trades; Charged tracks only the quota-charged portion.
type Decision struct {
	New      []string
	Previous []string
	Charged  types.TradeCounts

	members map[string]bool
}

// Contains reports whether the trade id is accessible.
func (d *Decision) Contains(tradeID string) bool {
	return d.members[tradeID]
}

// AllIDs returns previous followed by new, preserving selection order.
func (d *Decision) AllIDs() []string {
	out := make([]string, 0, len(d.Previous)+len(d.New))
	out = append(out, d.Previous...)
	out = append(out, d.New...)
	return out
}

// Set returns the accessible ids as a membership map.
func (d *Decision) Set() map[string]bool {
	out := make(map[string]bool, len(d.members))
	for id := range d.members {
		out[id] = true
	}
	return out
}

// AccessibleTradeIDs resolves the previous/new sets for a user. A nil or
// expired subscription yields free calls only. The subscription is the one
// pinned by the caller; the resolver never consults the wall clock for the
// new/previous split.
func (r *Resolver) AccessibleTradeIDs(sub *types.Subscription) (*Decision, error) {
	decision := &Decision{members: make(map[string]bool)}

	if sub == nil {
		trades, err := r.source.ListSurfacedTrades(nil)
		if err != nil {
			return nil, err
		}
		for _, trade := range trades {
			if trade.FreeCall && !trade.CreatedAt.IsZero() {
				decision.New = append(decision.New, trade.TradeID)
				decision.members[trade.TradeID] = true
			}
		}
		return decision, nil
	}

	levels := PlanLevels(sub.Plan)
	trades, err := r.source.ListSurfacedTrades(levels)
	if err != nil {
		return nil, err
	}

	seesTier := make(map[types.PlanTier]bool, len(levels))
	for _, tier := range levels {
		seesTier[tier] = true
	}

	var newCandidates, prevCandidates []types.Trade
	var freeNew, freePrev []types.Trade
	for _, trade := range trades {
		// A trade without a creation time cannot be classified; drop it.
		if trade.CreatedAt.IsZero() {
			continue
		}

		isNew := !trade.CreatedAt.Before(sub.StartTime)
		if trade.FreeCall {
			if isNew {
				freeNew = append(freeNew, trade)
			} else {
				freePrev = append(freePrev, trade)
			}
			continue
		}
		if !seesTier[trade.PlanTier] {
			continue
		}

		if isNew {
			newCandidates = append(newCandidates, trade)
			continue
		}
		// Previous: created before the subscription but either still
		// active at its start or completed at/after it.
		switch trade.Status {
		case types.TradeStatusActive:
			prevCandidates = append(prevCandidates, trade)
		case types.TradeStatusCompleted:
			if trade.CompletedAt != nil && !trade.CompletedAt.Before(sub.StartTime) {
				prevCandidates = append(prevCandidates, trade)
			}
		}
	}

	// New trades chronologically, oldest first; the first N by plan win.
	sort.SliceStable(newCandidates, func(i, j int) bool {
		if newCandidates[i].CreatedAt.Equal(newCandidates[j].CreatedAt) {
			return newCandidates[i].TradeID < newCandidates[j].TradeID
		}
		return newCandidates[i].CreatedAt.Before(newCandidates[j].CreatedAt)
	})
	// Previous trades newest first; the first 6 win.
	sort.SliceStable(prevCandidates, func(i, j int) bool {
		if prevCandidates[i].CreatedAt.Equal(prevCandidates[j].CreatedAt) {
			return prevCandidates[i].TradeID < prevCandidates[j].TradeID
		}
		return prevCandidates[i].CreatedAt.After(prevCandidates[j].CreatedAt)
	})

	limits := PlanLimits(sub.Plan)
	if limits.New != unlimited && len(newCandidates) > limits.New {
		newCandidates = newCandidates[:limits.New]
	}
	if limits.Previous != unlimited && len(prevCandidates) > limits.Previous {
		prevCandidates = prevCandidates[:limits.Previous]
	}

	for _, trade := range newCandidates {
		decision.New = append(decision.New, trade.TradeID)
		decision.members[trade.TradeID] = true
	}
	for _, trade := range prevCandidates {
		decision.Previous = append(decision.Previous, trade.TradeID)
		decision.members[trade.TradeID] = true
	}
	decision.Charged = types.TradeCounts{
		New:      len(decision.New),
		Previous: len(decision.Previous),
		Total:    len(decision.New) + len(decision.Previous),
	}

	// Free calls ride along regardless of quota, in their natural bucket.
	for _, trade := range freeNew {
		if !decision.members[trade.TradeID] {
			decision.New = append(decision.New, trade.TradeID)
			decision.members[trade.TradeID] = true
		}
	}
	for _, trade := range freePrev {
		if !decision.members[trade.TradeID] {
			decision.Previous = append(decision.Previous, trade.TradeID)
			decision.members[trade.TradeID] = true
		}
	}

	return decision, nil
}

// IsAccessible reports whether one specific trade is accessible under the
// pinned subscription. Free calls are accessible to everyone, including
// unsubscribed users.
func (r *Resolver) IsAccessible(sub *types.Subscription, trade *types.Trade) (bool, error) {
	if trade == nil {
		return false, nil
	}
	switch trade.Status {
	case types.TradeStatusActive, types.TradeStatusCompleted:
	default:
		return false, nil
	}
	if trade.FreeCall {
		return true, nil
	}
	if sub == nil {
		return false, nil
	}
	if sub.Plan.Unlimited() {
		// No quota, but the previous-trade rule still binds: a trade that
		// finished before the subscription began never surfaces.
		if !sub.Plan.Sees(trade.PlanTier) {
			return false, nil
		}
		if !trade.CreatedAt.Before(sub.StartTime) {
			return true, nil
		}
		if trade.Status == types.TradeStatusActive {
			return true, nil
		}
		return trade.CompletedAt != nil && !trade.CompletedAt.Before(sub.StartTime), nil
	}

	decision, err := r.AccessibleTradeIDs(sub)
	if err != nil {
		return false, err
	}
	return decision.Contains(trade.TradeID), nil
}

// AdmitsEvent decides whether a live event for the trade should reach the
// subscription's user. Unlimited plans admit every non-PENDING event,
// including terminal transitions of trades they were following; metered
// plans admit only trades inside their accessible set, and unsubscribed
// users admit free calls only.
func (r *Resolver) AdmitsEvent(sub *types.Subscription, trade *types.Trade) (bool, error) {
	if trade == nil || trade.Status == types.TradeStatusPending {
		return false, nil
	}
	if trade.FreeCall {
		return true, nil
	}
	if sub == nil {
		return false, nil
	}
	if sub.Plan.Unlimited() {
		return sub.Plan.Sees(trade.PlanTier), nil
	}
	return r.IsAccessible(sub, trade)
}

// CountsAndLimits builds the subscription-info quota block. Free-call
// trades are never charged against the quotas.
func (r *Resolver) CountsAndLimits(sub *types.Subscription) (*types.SubscriptionInfo, error) {
	if sub == nil {
		return &types.SubscriptionInfo{
			Limits:    types.TradeCounts{},
			Current:   types.TradeCounts{},
			Remaining: types.TradeCounts{},
		}, nil
	}

	decision, err := r.AccessibleTradeIDs(sub)
	if err != nil {
		return nil, err
	}

	limits := PlanLimits(sub.Plan)
	info := &types.SubscriptionInfo{
		Plan:      sub.Plan,
		StartTime: timePtr(sub.StartTime),
		EndTime:   timePtr(sub.EndTime),
		Current:   decision.Charged,
		Limits:    limits,
	}
	if limits.New == unlimited {
		info.Remaining = types.TradeCounts{New: unlimited, Previous: unlimited, Total: unlimited}
	} else {
		info.Remaining = types.TradeCounts{
			New:      clampNonNegative(limits.New - decision.Charged.New),
			Previous: clampNonNegative(limits.Previous - decision.Charged.Previous),
			Total:    clampNonNegative(limits.Total - decision.Charged.Total),
		}
	}
	return info, nil
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
