package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeHistory is one price-point revision of a trade. Rows are ordered
// newest first when listed. The strict constraint stop loss < buy < target
// is validated before every insert.
type TradeHistory struct {
	gorm.Model `json:"-"`
	HistoryID  string          `gorm:"uniqueIndex" json:"history_id"`
	TradeID    string          `gorm:"index:idx_history_trade_time" json:"trade_id"`
	Buy        decimal.Decimal `gorm:"type:decimal(20,8)" json:"buy"`
	Target     decimal.Decimal `gorm:"type:decimal(20,8)" json:"target"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_loss"`
	RecordedAt time.Time       `gorm:"index:idx_history_trade_time" json:"recorded_at"`
}

// Validate enforces stop_loss < buy < target, strictly.
func (h *TradeHistory) Validate() error {
	if !h.StopLoss.LessThan(h.Buy) || !h.Buy.LessThan(h.Target) {
		return WrapError(ErrPriceConstraintViolation,
			"require stop_loss < buy < target, got sl=%s buy=%s target=%s",
			h.StopLoss, h.Buy, h.Target)
	}
	return nil
}

// RiskReward is the ratio of potential profit to potential loss.
func (h *TradeHistory) RiskReward() decimal.Decimal {
	risk := h.Buy.Sub(h.StopLoss)
	if risk.IsZero() {
		return decimal.Zero
	}
	return h.Target.Sub(h.Buy).Div(risk).Round(2)
}

// ProfitPercent is the gain at target relative to the entry price.
func (h *TradeHistory) ProfitPercent() decimal.Decimal {
	if h.Buy.IsZero() {
		return decimal.Zero
	}
	return h.Target.Sub(h.Buy).Div(h.Buy).Mul(decimal.NewFromInt(100)).Round(2)
}

// StopLossPercent is the loss at stop relative to the entry price.
func (h *TradeHistory) StopLossPercent() decimal.Decimal {
	if h.Buy.IsZero() {
		return decimal.Zero
	}
	return h.Buy.Sub(h.StopLoss).Div(h.Buy).Mul(decimal.NewFromInt(100)).Round(2)
}
