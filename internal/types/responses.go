package types

import "time"

// InstrumentCard is one row of the client's live view: the instrument plus
// its current intraday and positional trades, either of which may be absent.
type InstrumentCard struct {
	InstrumentID    string         `json:"instrument_id"`
	Instrument      string         `json:"instrument"`
	Kind            InstrumentKind `json:"instrument_kind"`
	IntradayTrade   *TradeCard     `json:"intraday_trade"`
	PositionalTrade *TradeCard     `json:"positional_trade"`
}

// TradeCounts is one leg of the quota block.
type TradeCounts struct {
	New      int `json:"new"`
	Previous int `json:"previous"`
	Total    int `json:"total"`
}

// SubscriptionInfo is the counts/limits/remaining block sent with every
// snapshot and update. Unlimited plans report -1 limits.
type SubscriptionInfo struct {
	Plan      PlanTier    `json:"plan"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Current   TradeCounts `json:"current"`
	Limits    TradeCounts `json:"limits"`
	Remaining TradeCounts `json:"remaining"`
}

// Pagination is the standard paging envelope for list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// CompletedTradesPage is the paged completed-trades listing.
type CompletedTradesPage struct {
	Trades     []TradeCard `json:"trades"`
	Pagination Pagination  `json:"pagination"`
}

// MonthlyTradeGroup groups completed trades by calendar month.
type MonthlyTradeGroup struct {
	Month  string      `json:"month"` // YYYY-MM
	Trades []TradeCard `json:"trades"`
}

// NotificationsPage is the paged inbox listing plus the unread counter.
type NotificationsPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int64          `json:"unread_count"`
	Pagination    Pagination     `json:"pagination"`
}

// TradeStatistics is the aggregate completed-trade summary, cached by the
// read API.
type TradeStatistics struct {
	TotalCompleted  int64     `json:"total_completed"`
	SuccessRate     float64   `json:"success_rate"`
	AverageDuration float64   `json:"average_duration_hours"`
	GeneratedAt     time.Time `json:"generated_at"`
}
