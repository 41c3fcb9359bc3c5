package trades

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// Change is the record handed to the registered observer after a mutation's
// transaction commits. It snapshots everything needed to build the event
// card so the observer never re-reads the store mid-fanout.
type Change struct {
	Action     types.TradeAction
	Trade      types.Trade
	Instrument types.Instrument
	Prices     *types.TradeHistory
	OccurredAt time.Time
}

// ChangeObserver receives committed domain changes. Registered at startup;
// the store runs without one so tests can instantiate it in isolation.
type ChangeObserver interface {
	TradeChanged(change Change)
}

// Service handles the trade domain: instruments, trades, price history,
// analysis and insight, with the structural invariants enforced inside
// transactions.
type Service struct {
	db       *Database
	observer ChangeObserver
	now      func() time.Time
}

// NewService creates a new trading service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		now: time.Now,
	}
}

// RegisterObserver wires the change emitter in. Must be called before the
// server starts accepting mutations; there is no locking around it.
func (s *Service) RegisterObserver(observer ChangeObserver) {
	s.observer = observer
}

// SetClock overrides the service clock, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) notify(action types.TradeAction, trade *types.Trade, occurredAt time.Time) {
	if s.observer == nil {
		return
	}
	instrument, err := s.db.GetInstrument(trade.InstrumentID)
	if err != nil || instrument == nil {
		log.Error().Err(err).
			Str("trade_id", trade.TradeID).
			Str("instrument_id", trade.InstrumentID).
			Msg("failed to resolve instrument for change notification")
		return
	}
	prices, err := s.db.LatestHistory(trade.TradeID)
	if err != nil {
		log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("failed to load latest prices for change notification")
	}
	s.observer.TradeChanged(Change{
		Action:     action,
		Trade:      *trade,
		Instrument: *instrument,
		Prices:     prices,
		OccurredAt: occurredAt,
	})
}

// CreateInstrument registers a new tradable instrument, minting an id when
// the caller did not supply one.
func (s *Service) CreateInstrument(instrument *types.Instrument) error {
	if err := instrument.Validate(s.now()); err != nil {
		return err
	}
	if instrument.InstrumentID == "" {
		instrument.InstrumentID = "INS_" + uuid.New().String()
	}
	return s.db.CreateInstrument(instrument)
}

// CreateTradeInput carries the analyst's create request.
type CreateTradeInput struct {
	InstrumentID string
	AnalystID    string
	Kind         types.TradeKind
	PlanTier     types.PlanTier
	RiskLevel    float64
	FreeCall     bool
	ChartImage   string
	Activate     bool // publish immediately as ACTIVE instead of PENDING
}

// CreateTrade creates a trade, failing with a conflict when a non-terminal
// trade of the same kind already exists on the instrument and rejecting
// derivative instruments whose expiry has passed.
func (s *Service) CreateTrade(input CreateTradeInput) (*types.Trade, error) {
	logger := log.With().
		Str("instrument_id", input.InstrumentID).
		Str("kind", string(input.Kind)).
		Str("service", "trades").
		Logger()

	if !input.Kind.Valid() {
		return nil, types.WrapError(types.ErrInvalidInput, "unknown trade kind %q", input.Kind)
	}
	if !input.PlanTier.Valid() {
		return nil, types.WrapError(types.ErrInvalidInput, "unknown plan tier %q", input.PlanTier)
	}

	instrument, err := s.db.GetInstrument(input.InstrumentID)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, types.WrapError(types.ErrNotFound, "instrument %s not found", input.InstrumentID)
	}
	now := s.now()
	if instrument.Kind.RequiresExpiry() && instrument.Expiry != nil && !instrument.Expiry.After(now) {
		return nil, types.WrapError(types.ErrInvalidInstrument,
			"instrument %s expired on %s", instrument.Identity(), instrument.Expiry.Format(time.RFC3339))
	}

	status := types.TradeStatusPending
	if input.Activate {
		status = types.TradeStatusActive
	}

	trade := &types.Trade{
		TradeID:      "TRD_" + uuid.New().String(),
		InstrumentID: input.InstrumentID,
		AnalystID:    input.AnalystID,
		Kind:         input.Kind,
		Status:       status,
		PlanTier:     input.PlanTier,
		FreeCall:     input.FreeCall,
		ChartImage:   input.ChartImage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := trade.AppendRiskLevel(input.RiskLevel, now); err != nil {
		return nil, err
	}

	if err := s.db.CreateTrade(trade); err != nil {
		logger.Warn().Err(err).Msg("trade creation rejected")
		return nil, err
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("status", string(trade.Status)).
		Str("plan_tier", string(trade.PlanTier)).
		Msg("trade created")

	s.notify(types.ActionCreated, trade, now)
	return trade, nil
}

// TransitionTrade moves a trade along the status DAG, stamping completed_at
// on terminal transitions.
func (s *Service) TransitionTrade(tradeID string, to types.TradeStatus) (*types.Trade, error) {
	now := s.now()
	trade, err := s.db.UpdateTradeLocked(tradeID, func(trade *types.Trade, tx *gorm.DB) error {
		return trade.Transition(to, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("trade_id", trade.TradeID).
		Str("status", string(trade.Status)).
		Str("service", "trades").
		Msg("trade status changed")

	action := types.ActionUpdated
	switch to {
	case types.TradeStatusCompleted:
		action = types.ActionCompleted
	case types.TradeStatusCancelled:
		action = types.ActionCancelled
	}
	s.notify(action, trade, now)
	return trade, nil
}

// AppendHistory attaches a price-point revision to a non-terminal trade.
func (s *Service) AppendHistory(tradeID string, buy, target, stopLoss decimal.Decimal) (*types.TradeHistory, error) {
	now := s.now()
	history := &types.TradeHistory{
		HistoryID:  "HST_" + uuid.New().String(),
		TradeID:    tradeID,
		Buy:        buy,
		Target:     target,
		StopLoss:   stopLoss,
		RecordedAt: now,
	}
	if err := history.Validate(); err != nil {
		return nil, err
	}

	trade, err := s.db.UpdateTradeLocked(tradeID, func(trade *types.Trade, tx *gorm.DB) error {
		if trade.Status.Terminal() {
			return types.WrapError(types.ErrInvalidTransition,
				"trade %s is %s and no longer accepts price revisions", tradeID, trade.Status)
		}
		trade.UpdatedAt = now
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	s.notify(types.ActionPrice, trade, now)
	return history, nil
}

// UpdateRiskLevel appends to the trade's bounded risk history.
func (s *Service) UpdateRiskLevel(tradeID string, value float64) (*types.Trade, error) {
	now := s.now()
	trade, err := s.db.UpdateTradeLocked(tradeID, func(trade *types.Trade, tx *gorm.DB) error {
		if trade.Status.Terminal() {
			return types.WrapError(types.ErrInvalidTransition,
				"trade %s is %s and no longer accepts risk updates", tradeID, trade.Status)
		}
		trade.UpdatedAt = now
		return trade.AppendRiskLevel(value, now)
	})
	if err != nil {
		return nil, err
	}

	s.notify(types.ActionRisk, trade, now)
	return trade, nil
}

// UpdateChartImage replaces the trade's chart image reference.
func (s *Service) UpdateChartImage(tradeID, image string) (*types.Trade, error) {
	now := s.now()
	trade, err := s.db.UpdateTradeLocked(tradeID, func(trade *types.Trade, tx *gorm.DB) error {
		if trade.Status.Terminal() {
			return types.WrapError(types.ErrInvalidTransition,
				"trade %s is %s and is immutable", tradeID, trade.Status)
		}
		trade.ChartImage = image
		trade.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(types.ActionUpdated, trade, now)
	return trade, nil
}

// UpsertAnalysisInput carries an analysis create/update.
type UpsertAnalysisInput struct {
	TradeID      string
	BullScenario string
	BearScenario string
	Sentiment    types.Sentiment
}

// UpsertAnalysis creates or updates the trade's single analysis.
func (s *Service) UpsertAnalysis(input UpsertAnalysisInput) (*types.Analysis, error) {
	trade, err := s.db.GetTrade(input.TradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, types.WrapError(types.ErrNotFound, "trade %s not found", input.TradeID)
	}

	now := s.now()
	analysis, err := s.db.GetAnalysis(input.TradeID)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		analysis = &types.Analysis{
			AnalysisID: "ANL_" + uuid.New().String(),
			TradeID:    input.TradeID,
			Sentiment:  types.SentimentNeutral,
			CreatedAt:  now,
		}
	}
	analysis.BullScenario = input.BullScenario
	analysis.BearScenario = input.BearScenario
	analysis.UpdatedAt = now
	if err := analysis.SetSentiment(input.Sentiment, now); err != nil {
		return nil, err
	}

	if err := s.db.SaveAnalysis(analysis); err != nil {
		return nil, err
	}

	s.notify(types.ActionAnalysis, trade, now)
	return analysis, nil
}

// UpsertInsightInput carries an insight create/update.
type UpsertInsightInput struct {
	TradeID               string
	PredictionImage       string
	ActualImage           string
	PredictionDescription string
	ActualDescription     string
	AccuracyScore         float64
	AnalysisResult        types.AnalysisResult
}

// UpsertInsight creates or updates the post-trade review. Only COMPLETED
// trades accept insight.
func (s *Service) UpsertInsight(input UpsertInsightInput) (*types.Insight, error) {
	trade, err := s.db.GetTrade(input.TradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, types.WrapError(types.ErrNotFound, "trade %s not found", input.TradeID)
	}
	if trade.Status != types.TradeStatusCompleted {
		return nil, types.WrapError(types.ErrInvalidTransition,
			"insight requires a COMPLETED trade, %s is %s", trade.TradeID, trade.Status)
	}

	now := s.now()
	insight, err := s.db.GetInsight(input.TradeID)
	if err != nil {
		return nil, err
	}
	changed := insight == nil
	if insight == nil {
		insight = &types.Insight{
			InsightID: "ISG_" + uuid.New().String(),
			TradeID:   input.TradeID,
			CreatedAt: now,
		}
	}

	if insight.PredictionImage != input.PredictionImage ||
		insight.ActualImage != input.ActualImage ||
		insight.PredictionDescription != input.PredictionDescription ||
		insight.ActualDescription != input.ActualDescription ||
		insight.AccuracyScore != input.AccuracyScore {
		changed = true
	}
	insight.PredictionImage = input.PredictionImage
	insight.ActualImage = input.ActualImage
	insight.PredictionDescription = input.PredictionDescription
	insight.ActualDescription = input.ActualDescription
	insight.AccuracyScore = input.AccuracyScore
	insight.UpdatedAt = now
	if input.AnalysisResult != nil {
		before := insight.AnalysisResultRaw
		if err := insight.SetAnalysisResult(input.AnalysisResult); err != nil {
			return nil, err
		}
		if insight.AnalysisResultRaw != before {
			changed = true
		}
	}

	if err := insight.Validate(); err != nil {
		return nil, err
	}
	if err := s.db.SaveInsight(insight); err != nil {
		return nil, err
	}

	// Only an actual change is worth a push to every subscriber.
	if changed {
		s.notify(types.ActionInsight, trade, now)
	}
	return insight, nil
}

// AvailableTradeKinds returns the kinds with no open trade on the instrument.
func (s *Service) AvailableTradeKinds(instrumentID string) ([]types.TradeKind, error) {
	open, err := s.db.OpenTradeKinds(instrumentID)
	if err != nil {
		return nil, err
	}
	taken := make(map[types.TradeKind]bool, len(open))
	for _, kind := range open {
		taken[kind] = true
	}
	var available []types.TradeKind
	for _, kind := range []types.TradeKind{types.TradeKindIntraday, types.TradeKindPositional} {
		if !taken[kind] {
			available = append(available, kind)
		}
	}
	return available, nil
}

// GetTrade exposes single-trade lookup for collaborators.
func (s *Service) GetTrade(tradeID string) (*types.Trade, error) {
	return s.db.GetTrade(tradeID)
}

// Store exposes the database layer to read-path collaborators (entitlement,
// push snapshot building).
func (s *Service) Store() *Database {
	return s.db
}
