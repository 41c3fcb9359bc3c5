package types

import (
	"fmt"
	"time"
)

// TradeAction is the kind of domain mutation an event describes.
type TradeAction string

const (
	ActionCreated   TradeAction = "created"
	ActionUpdated   TradeAction = "updated"
	ActionCompleted TradeAction = "completed"
	ActionCancelled TradeAction = "cancelled"
	ActionPrice     TradeAction = "price"
	ActionAnalysis  TradeAction = "analysis"
	ActionInsight   TradeAction = "insight"
	ActionRisk      TradeAction = "risk"
)

// NotificationType maps the action onto the inbox category it produces.
func (a TradeAction) NotificationType() NotificationType {
	switch a {
	case ActionCreated, ActionUpdated, ActionCompleted, ActionCancelled:
		return NotificationTrade
	case ActionPrice:
		return NotificationPrice
	case ActionAnalysis:
		return NotificationAnalysis
	case ActionInsight:
		return NotificationInsight
	case ActionRisk:
		return NotificationRisk
	}
	return NotificationTrade
}

// TradeCard is the denormalized per-trade snapshot carried by events and
// instrument cards. It duplicates the instrument identity so clients never
// resolve references.
type TradeCard struct {
	TradeID        string         `json:"trade_id"`
	Instrument     string         `json:"instrument"`
	Exchange       string         `json:"exchange"`
	TradingSymbol  string         `json:"trading_symbol"`
	InstrumentKind InstrumentKind `json:"instrument_kind"`
	Kind           TradeKind      `json:"kind"`
	Status         TradeStatus     `json:"status"`
	PlanTier       PlanTier        `json:"plan_tier"`
	RiskLevel      float64         `json:"risk_level"`
	FreeCall       bool            `json:"free_call"`
	ChartImage     string          `json:"chart_image,omitempty"`
	Prices         *TradeCardPrice `json:"prices,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// TradeCardPrice is the latest price point of a trade, decimal-as-string on
// the wire.
type TradeCardPrice struct {
	Buy             string `json:"buy"`
	Target          string `json:"target"`
	StopLoss        string `json:"stop_loss"`
	RiskReward      string `json:"risk_reward"`
	ProfitPercent   string `json:"profit_percent"`
	StopLossPercent string `json:"stop_loss_percent"`
}

// TradeEvent is the transient fan-out record. It is not persisted; the
// notification store mirrors it durably.
type TradeEvent struct {
	TradeID      string      `json:"trade_id"`
	Action       TradeAction `json:"action"`
	Card         TradeCard   `json:"card"`
	InstrumentID string      `json:"instrument_id"`
	OccurredAt   time.Time   `json:"occurred_at"`

	// Notification is the recipient's durable inbox row for this event. Set
	// only on per-user group publishes, never serialized with the event.
	Notification *Notification `json:"-"`
}

// DedupKey is monotonic per (trade, status, action, wall second); the push
// server drops repeats of the same key within its dedup window.
func (e TradeEvent) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", e.TradeID, e.Card.Status, e.Action, e.OccurredAt.Unix())
}

// PriceCardFromHistory renders the latest history row for a card.
func PriceCardFromHistory(h *TradeHistory) *TradeCardPrice {
	if h == nil {
		return nil
	}
	return &TradeCardPrice{
		Buy:             h.Buy.String(),
		Target:          h.Target.String(),
		StopLoss:        h.StopLoss.String(),
		RiskReward:      h.RiskReward().String(),
		ProfitPercent:   h.ProfitPercent().String(),
		StopLossPercent: h.StopLossPercent().String(),
	}
}
