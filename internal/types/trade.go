package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type TradeKind string

const (
	TradeKindIntraday   TradeKind = "INTRADAY"
	TradeKindPositional TradeKind = "POSITIONAL"
)

func (k TradeKind) Valid() bool {
	return k == TradeKindIntraday || k == TradeKindPositional
}

type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusActive    TradeStatus = "ACTIVE"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// Terminal reports whether the status has no outgoing transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusCancelled
}

// CanTransition reports whether the edge s -> to exists in the status DAG:
// PENDING -> {ACTIVE, CANCELLED}, ACTIVE -> {COMPLETED, CANCELLED}.
func (s TradeStatus) CanTransition(to TradeStatus) bool {
	switch s {
	case TradeStatusPending:
		return to == TradeStatusActive || to == TradeStatusCancelled
	case TradeStatusActive:
		return to == TradeStatusCompleted || to == TradeStatusCancelled
	case TradeStatusCompleted, TradeStatusCancelled:
		return false
	}
	return false
}

type PlanTier string

const (
	PlanBasic        PlanTier = "BASIC"
	PlanPremium      PlanTier = "PREMIUM"
	PlanSuperPremium PlanTier = "SUPER_PREMIUM"
	PlanFreeTrial    PlanTier = "FREE_TRIAL"
)

func (p PlanTier) Valid() bool {
	switch p {
	case PlanBasic, PlanPremium, PlanSuperPremium, PlanFreeTrial:
		return true
	}
	return false
}

// Unlimited reports whether the tier has no trade quotas and sees all plan tiers.
func (p PlanTier) Unlimited() bool {
	return p == PlanSuperPremium || p == PlanFreeTrial
}

// Sees reports whether a user on tier p is entitled to trades published at tier t.
func (p PlanTier) Sees(t PlanTier) bool {
	switch p {
	case PlanBasic:
		return t == PlanBasic
	case PlanPremium:
		return t == PlanBasic || t == PlanPremium
	case PlanSuperPremium, PlanFreeTrial:
		return true
	}
	return false
}

// MaxRiskLevelHistory bounds the per-trade risk level history; the oldest
// entry is evicted once the bound is reached.
const MaxRiskLevelHistory = 20

// RiskLevelEntry is one recorded risk level revision.
type RiskLevelEntry struct {
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Trade is an analyst-authored recommendation on an instrument.
type Trade struct {
	gorm.Model       `json:"-"`
	TradeID          string      `gorm:"uniqueIndex" json:"trade_id"`
	InstrumentID     string      `gorm:"index" json:"instrument_id"`
	AnalystID        string      `json:"analyst_id"`
	Kind             TradeKind   `gorm:"index:idx_trade_scope" json:"kind"`
	Status           TradeStatus `gorm:"index:idx_trade_scope" json:"status"`
	PlanTier         PlanTier    `gorm:"index:idx_trade_scope" json:"plan_tier"`
	RiskLevel        float64     `json:"risk_level"`
	RiskLevelEntries string      `json:"-"` // JSON array of RiskLevelEntry, bounded
	FreeCall         bool        `json:"free_call"`
	ChartImage       string      `json:"chart_image,omitempty"`
	CreatedAt        time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// RiskLevelHistory unmarshals the stored risk history, newest last.
func (t *Trade) RiskLevelHistory() []RiskLevelEntry {
	if t.RiskLevelEntries == "" {
		return nil
	}
	var entries []RiskLevelEntry
	if err := json.Unmarshal([]byte(t.RiskLevelEntries), &entries); err != nil {
		return nil
	}
	return entries
}

// AppendRiskLevel records a risk level revision, evicting the oldest entry
// once the bounded history is full, and updates the current value.
func (t *Trade) AppendRiskLevel(value float64, at time.Time) error {
	entries := t.RiskLevelHistory()
	entries = append(entries, RiskLevelEntry{Value: value, RecordedAt: at})
	if len(entries) > MaxRiskLevelHistory {
		entries = entries[len(entries)-MaxRiskLevelHistory:]
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return WrapError(ErrInternal, "marshal risk history: %v", err)
	}
	t.RiskLevel = value
	t.RiskLevelEntries = string(raw)
	return nil
}

// Transition applies the status edge to the trade, stamping CompletedAt on
// entry into a terminal state. Terminal trades are immutable.
func (t *Trade) Transition(to TradeStatus, at time.Time) error {
	if !t.Status.CanTransition(to) {
		return WrapError(ErrInvalidTransition, "cannot move trade %s from %s to %s", t.TradeID, t.Status, to)
	}
	t.Status = to
	if to.Terminal() {
		completed := at
		t.CompletedAt = &completed
	}
	return nil
}
