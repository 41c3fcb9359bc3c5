package types

import (
	"time"

	"gorm.io/gorm"
)

type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

func (s Sentiment) Valid() bool {
	return s == SentimentBullish || s == SentimentBearish || s == SentimentNeutral
}

// Analysis is the single bull/bear scenario write-up attached to a trade.
// CompletedAt is stamped the first time sentiment leaves NEUTRAL and never
// cleared, even if sentiment later returns to NEUTRAL.
type Analysis struct {
	gorm.Model   `json:"-"`
	AnalysisID   string     `gorm:"uniqueIndex" json:"analysis_id"`
	TradeID      string     `gorm:"uniqueIndex" json:"trade_id"`
	BullScenario string     `json:"bull_scenario"`
	BearScenario string     `json:"bear_scenario"`
	Sentiment    Sentiment  `json:"sentiment"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetSentiment updates the sentiment, stamping CompletedAt on the first
// departure from NEUTRAL.
func (a *Analysis) SetSentiment(s Sentiment, at time.Time) error {
	if !s.Valid() {
		return WrapError(ErrInvalidInput, "unknown sentiment %q", s)
	}
	if s != SentimentNeutral && a.CompletedAt == nil {
		completed := at
		a.CompletedAt = &completed
	}
	a.Sentiment = s
	return nil
}
