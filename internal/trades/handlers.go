package trades

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/types"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
	"github.com/tradepulse/tradepulse-api/pkg/response"
)

// GinHandlers contains HTTP handlers for trade endpoints: the
// entitlement-filtered read API and the analyst mutation surface.
type GinHandlers struct {
	service  *Service
	resolver *entitlement.Resolver
	subs     *subscriptions.Service
	stats    *StatsCache
	now      func() time.Time
}

func NewGinHandlers(service *Service, resolver *entitlement.Resolver, subs *subscriptions.Service, stats *StatsCache) *GinHandlers {
	return &GinHandlers{
		service:  service,
		resolver: resolver,
		subs:     subs,
		stats:    stats,
		now:      time.Now,
	}
}

func (h *GinHandlers) pinnedSubscription(c *gin.Context) (*types.Subscription, error) {
	return h.subs.ActiveSubscription(middleware.UserID(c), h.now())
}

// GetCompletedTradesHandler serves GET /trades/completed?page=<n>.
func (h *GinHandlers) GetCompletedTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.pinnedSubscription(c)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		result, err := h.service.CompletedTradesForUser(sub, h.resolver, page)
		response.Handle(c, result, err)
	}
}

// GetGroupedTradesHandler serves GET /trades/grouped.
func (h *GinHandlers) GetGroupedTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.pinnedSubscription(c)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		result, err := h.service.GroupedTradesForUser(sub, h.resolver)
		response.Handle(c, result, err)
	}
}

// GetMonthlyTradesHandler serves GET /trades/monthly.
func (h *GinHandlers) GetMonthlyTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.pinnedSubscription(c)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		groups, err := h.service.MonthlyTradesForUser(sub, h.resolver)
		response.Handle(c, gin.H{"months": groups}, err)
	}
}

// GetStatisticsHandler serves GET /trades/statistics from the TTL cache.
func (h *GinHandlers) GetStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.stats.Statistics()
		response.Handle(c, stats, err)
	}
}

type createInstrumentRequest struct {
	Exchange      string               `json:"exchange" binding:"required"`
	TradingSymbol string               `json:"trading_symbol" binding:"required"`
	Kind          types.InstrumentKind `json:"kind" binding:"required"`
	Expiry        *time.Time           `json:"expiry,omitempty"`
}

// CreateInstrumentHandler registers an instrument. Internal route.
func (h *GinHandlers) CreateInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createInstrumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		instrument := &types.Instrument{
			Exchange:      req.Exchange,
			TradingSymbol: req.TradingSymbol,
			Kind:          req.Kind,
			Expiry:        req.Expiry,
			Active:        true,
		}
		err := h.service.CreateInstrument(instrument)
		response.Handle(c, instrument, err)
	}
}

type createTradeRequest struct {
	InstrumentID string          `json:"instrument_id" binding:"required"`
	Kind         types.TradeKind `json:"kind" binding:"required"`
	PlanTier     types.PlanTier  `json:"plan_tier" binding:"required"`
	RiskLevel    float64         `json:"risk_level"`
	FreeCall     bool            `json:"free_call"`
	ChartImage   string          `json:"chart_image"`
	Activate     bool            `json:"activate"`
}

// CreateTradeHandler publishes a trade. Internal route; the analyst id
// comes from the authenticated token.
func (h *GinHandlers) CreateTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		trade, err := h.service.CreateTrade(CreateTradeInput{
			InstrumentID: req.InstrumentID,
			AnalystID:    middleware.UserID(c),
			Kind:         req.Kind,
			PlanTier:     req.PlanTier,
			RiskLevel:    req.RiskLevel,
			FreeCall:     req.FreeCall,
			ChartImage:   req.ChartImage,
			Activate:     req.Activate,
		})
		response.Handle(c, trade, err)
	}
}

type transitionRequest struct {
	Status types.TradeStatus `json:"status" binding:"required"`
}

// TransitionTradeHandler moves a trade along its status graph. Internal route.
func (h *GinHandlers) TransitionTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		trade, err := h.service.TransitionTrade(c.Param("id"), req.Status)
		if err == nil && trade.Status == types.TradeStatusCompleted {
			// Completions change the aggregates immediately, not at TTL expiry.
			h.stats.Invalidate()
		}
		response.Handle(c, trade, err)
	}
}

type appendHistoryRequest struct {
	Buy      decimal.Decimal `json:"buy" binding:"required"`
	Target   decimal.Decimal `json:"target" binding:"required"`
	StopLoss decimal.Decimal `json:"stop_loss" binding:"required"`
}

// AppendHistoryHandler appends a price row to a live trade. Internal route.
func (h *GinHandlers) AppendHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendHistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		history, err := h.service.AppendHistory(c.Param("id"), req.Buy, req.Target, req.StopLoss)
		response.Handle(c, history, err)
	}
}

type riskLevelRequest struct {
	RiskLevel float64 `json:"risk_level"`
}

// UpdateRiskLevelHandler adjusts the trade's risk level. Internal route.
func (h *GinHandlers) UpdateRiskLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req riskLevelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		trade, err := h.service.UpdateRiskLevel(c.Param("id"), req.RiskLevel)
		response.Handle(c, trade, err)
	}
}

type chartImageRequest struct {
	ChartImage string `json:"chart_image" binding:"required"`
}

// UpdateChartImageHandler replaces the trade's chart image. Internal route.
func (h *GinHandlers) UpdateChartImageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chartImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		trade, err := h.service.UpdateChartImage(c.Param("id"), req.ChartImage)
		response.Handle(c, trade, err)
	}
}

type upsertAnalysisRequest struct {
	BullScenario string          `json:"bull_scenario"`
	BearScenario string          `json:"bear_scenario"`
	Sentiment    types.Sentiment `json:"sentiment" binding:"required"`
}

// UpsertAnalysisHandler creates or updates a trade's analysis. Internal route.
func (h *GinHandlers) UpsertAnalysisHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertAnalysisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		analysis, err := h.service.UpsertAnalysis(UpsertAnalysisInput{
			TradeID:      c.Param("id"),
			BullScenario: req.BullScenario,
			BearScenario: req.BearScenario,
			Sentiment:    req.Sentiment,
		})
		response.Handle(c, analysis, err)
	}
}

type upsertInsightRequest struct {
	PredictionImage       string               `json:"prediction_image"`
	ActualImage           string               `json:"actual_image"`
	PredictionDescription string               `json:"prediction_description"`
	ActualDescription     string               `json:"actual_description"`
	AccuracyScore         float64              `json:"accuracy_score"`
	AnalysisResult        types.AnalysisResult `json:"analysis_result"`
}

// UpsertInsightHandler records a post-trade review. Internal route.
func (h *GinHandlers) UpsertInsightHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertInsightRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		insight, err := h.service.UpsertInsight(UpsertInsightInput{
			TradeID:               c.Param("id"),
			PredictionImage:       req.PredictionImage,
			ActualImage:           req.ActualImage,
			PredictionDescription: req.PredictionDescription,
			ActualDescription:     req.ActualDescription,
			AccuracyScore:         req.AccuracyScore,
			AnalysisResult:        req.AnalysisResult,
		})
		if err == nil {
			// Insight scores feed the success rate.
			h.stats.Invalidate()
		}
		response.Handle(c, insight, err)
	}
}

// GetAvailableKindsHandler reports which trade kinds are open for an
// instrument. Internal route.
func (h *GinHandlers) GetAvailableKindsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		kinds, err := h.service.AvailableTradeKinds(c.Param("id"))
		response.Handle(c, gin.H{"available_kinds": kinds}, err)
	}
}
