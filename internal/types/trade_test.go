package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeStatusTransitions(t *testing.T) {
	allowed := map[TradeStatus][]TradeStatus{
		TradeStatusPending:   {TradeStatusActive, TradeStatusCancelled},
		TradeStatusActive:    {TradeStatusCompleted, TradeStatusCancelled},
		TradeStatusCompleted: {},
		TradeStatusCancelled: {},
	}
	all := []TradeStatus{TradeStatusPending, TradeStatusActive, TradeStatusCompleted, TradeStatusCancelled}

	for from, targets := range allowed {
		ok := map[TradeStatus]bool{}
		for _, to := range targets {
			ok[to] = true
		}
		for _, to := range all {
			assert.Equal(t, ok[to], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTradeTransitionStampsCompletedAt(t *testing.T) {
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	trade := &Trade{TradeID: "TRD_1", Status: TradeStatusActive}

	require.NoError(t, trade.Transition(TradeStatusCompleted, now))
	require.NotNil(t, trade.CompletedAt)
	assert.Equal(t, now, *trade.CompletedAt)

	err := trade.Transition(TradeStatusActive, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTradeTransitionPendingToCompletedRejected(t *testing.T) {
	trade := &Trade{TradeID: "TRD_1", Status: TradeStatusPending}
	err := trade.Transition(TradeStatusCompleted, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, trade.CompletedAt)
}

func TestRiskLevelHistoryBounded(t *testing.T) {
	trade := &Trade{TradeID: "TRD_1", Status: TradeStatusActive}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxRiskLevelHistory+5; i++ {
		require.NoError(t, trade.AppendRiskLevel(float64(i), base.Add(time.Duration(i)*time.Minute)))
	}

	history := trade.RiskLevelHistory()
	require.Len(t, history, MaxRiskLevelHistory)
	// Oldest entries evicted first.
	assert.Equal(t, float64(5), history[0].Value)
	assert.Equal(t, float64(MaxRiskLevelHistory+4), history[len(history)-1].Value)
	assert.Equal(t, float64(MaxRiskLevelHistory+4), trade.RiskLevel)
}

func TestPlanTierSees(t *testing.T) {
	assert.True(t, PlanBasic.Sees(PlanBasic))
	assert.False(t, PlanBasic.Sees(PlanPremium))
	assert.True(t, PlanPremium.Sees(PlanBasic))
	assert.True(t, PlanPremium.Sees(PlanPremium))
	assert.False(t, PlanPremium.Sees(PlanSuperPremium))
	assert.True(t, PlanSuperPremium.Sees(PlanPremium))
	assert.True(t, PlanFreeTrial.Sees(PlanSuperPremium))
}

func TestTradeHistoryValidate(t *testing.T) {
	h := &TradeHistory{
		Buy:      decimal.NewFromInt(100),
		Target:   decimal.NewFromInt(110),
		StopLoss: decimal.NewFromInt(95),
	}
	require.NoError(t, h.Validate())

	h.StopLoss = decimal.NewFromInt(110)
	assert.ErrorIs(t, h.Validate(), ErrPriceConstraintViolation)

	h.StopLoss = decimal.NewFromInt(100)
	assert.ErrorIs(t, h.Validate(), ErrPriceConstraintViolation)
}

func TestTradeHistoryDerivedFields(t *testing.T) {
	h := &TradeHistory{
		Buy:      decimal.NewFromInt(100),
		Target:   decimal.NewFromInt(110),
		StopLoss: decimal.NewFromInt(95),
	}
	assert.Equal(t, "2", h.RiskReward().String())
	assert.Equal(t, "10", h.ProfitPercent().String())
	assert.Equal(t, "5", h.StopLossPercent().String())
}

func TestInstrumentValidate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	equity := &Instrument{Exchange: "NSE", TradingSymbol: "RELIANCE", Kind: KindEquity}
	require.NoError(t, equity.Validate(now))
	assert.Equal(t, "NSE:RELIANCE", equity.Identity())

	future := &Instrument{Exchange: "NSE", TradingSymbol: "NIFTY24FEB", Kind: KindFuture}
	assert.ErrorIs(t, future.Validate(now), ErrInvalidInstrument)

	past := now.Add(-24 * time.Hour)
	future.Expiry = &past
	assert.ErrorIs(t, future.Validate(now), ErrInvalidInstrument)

	ahead := now.Add(30 * 24 * time.Hour)
	future.Expiry = &ahead
	require.NoError(t, future.Validate(now))
}

func TestAnalysisSentimentCompletion(t *testing.T) {
	a := &Analysis{Sentiment: SentimentNeutral}
	first := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)

	require.NoError(t, a.SetSentiment(SentimentBullish, first))
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, first, *a.CompletedAt)

	// Returning to NEUTRAL and leaving again keeps the first stamp.
	require.NoError(t, a.SetSentiment(SentimentNeutral, first.Add(time.Hour)))
	require.NoError(t, a.SetSentiment(SentimentBearish, first.Add(2*time.Hour)))
	assert.Equal(t, first, *a.CompletedAt)
}

func TestEventDedupKeySecondGranularity(t *testing.T) {
	at := time.Date(2024, 1, 10, 10, 0, 0, 100*int(time.Millisecond), time.UTC)
	e1 := TradeEvent{TradeID: "TRD_1", Action: ActionRisk, Card: TradeCard{Status: TradeStatusActive}, OccurredAt: at}
	e2 := e1
	e2.OccurredAt = at.Add(500 * time.Millisecond)
	assert.Equal(t, e1.DedupKey(), e2.DedupKey())

	e3 := e1
	e3.OccurredAt = at.Add(time.Second)
	assert.NotEqual(t, e1.DedupKey(), e3.DedupKey())
}

func TestInsightValidate(t *testing.T) {
	i := &Insight{AccuracyScore: 85}
	require.NoError(t, i.Validate())
	i.AccuracyScore = 101
	assert.ErrorIs(t, i.Validate(), ErrInvalidInput)

	require.NoError(t, i.SetAnalysisResult(AnalysisResult{
		SectionOutcome: {{Kind: ParagraphSummary, Text: "target hit"}},
	}))
	result := i.AnalysisResult()
	require.Len(t, result[SectionOutcome], 1)
	assert.Equal(t, "target hit", result[SectionOutcome][0].Text)
}
