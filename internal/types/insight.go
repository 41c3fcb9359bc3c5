package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type SectionKind string

const (
	SectionTechnical   SectionKind = "TECHNICAL"
	SectionFundamental SectionKind = "FUNDAMENTAL"
	SectionOutcome     SectionKind = "OUTCOME"
)

type ParagraphKind string

const (
	ParagraphSummary     ParagraphKind = "SUMMARY"
	ParagraphObservation ParagraphKind = "OBSERVATION"
	ParagraphLearning    ParagraphKind = "LEARNING"
)

// InsightParagraph is one ordered paragraph of a post-trade analysis section.
type InsightParagraph struct {
	Kind      ParagraphKind `json:"kind"`
	Text      string        `json:"text"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AnalysisResult maps section kinds to their ordered paragraphs.
type AnalysisResult map[SectionKind][]InsightParagraph

// Insight is the single post-completion review attached to a COMPLETED trade.
type Insight struct {
	gorm.Model            `json:"-"`
	InsightID             string    `gorm:"uniqueIndex" json:"insight_id"`
	TradeID               string    `gorm:"uniqueIndex" json:"trade_id"`
	PredictionImage       string    `json:"prediction_image,omitempty"`
	ActualImage           string    `json:"actual_image,omitempty"`
	PredictionDescription string    `json:"prediction_description"`
	ActualDescription     string    `json:"actual_description"`
	AccuracyScore         float64   `json:"accuracy_score"`
	AnalysisResultRaw     string    `json:"-"` // JSON-encoded AnalysisResult
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Validate checks the insight's own invariants. The COMPLETED-trade
// precondition is enforced by the store.
func (i *Insight) Validate() error {
	if i.AccuracyScore < 0 || i.AccuracyScore > 100 {
		return WrapError(ErrInvalidInput, "accuracy score %v outside [0,100]", i.AccuracyScore)
	}
	return nil
}

// AnalysisResult unmarshals the stored section map.
func (i *Insight) AnalysisResult() AnalysisResult {
	if i.AnalysisResultRaw == "" {
		return nil
	}
	var result AnalysisResult
	if err := json.Unmarshal([]byte(i.AnalysisResultRaw), &result); err != nil {
		return nil
	}
	return result
}

// SetAnalysisResult stores the section map.
func (i *Insight) SetAnalysisResult(result AnalysisResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return WrapError(ErrInternal, "marshal analysis result: %v", err)
	}
	i.AnalysisResultRaw = string(raw)
	return nil
}
