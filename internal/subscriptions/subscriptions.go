package subscriptions

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tradepulse/tradepulse-api/internal/types"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
	"github.com/tradepulse/tradepulse-api/pkg/response"
)

// Service answers "is user U entitled to plan level P at time T" for the
// rest of the system and owns subscription activation.
type Service struct {
	db *Database
}

// NewService creates a new subscription service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Store exposes the backing database for the expiry sweeper.
func (s *Service) Store() *Database {
	return s.db
}

// ActiveSubscription returns the subscription pinned for a user at the given
// instant, or nil for unsubscribed (or fully expired) users.
func (s *Service) ActiveSubscription(userID string, at time.Time) (*types.Subscription, error) {
	return s.db.GetActiveSubscription(userID, at)
}

// ActiveSubscribers lists every currently subscribed user.
func (s *Service) ActiveSubscribers(at time.Time) ([]types.Subscription, error) {
	return s.db.ActiveSubscribers(at)
}

// CompletePayment activates a subscription for a settled payment. Replaying
// the same payment reference is a conflict, never a double activation.
func (s *Service) CompletePayment(userID string, plan types.PlanTier, start, end time.Time, paymentRef string) (*types.Subscription, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("payment_ref", paymentRef).
		Str("service", "subscriptions").
		Logger()

	if paymentRef == "" {
		return nil, types.WrapError(types.ErrInvalidInput, "payment reference is required")
	}

	existing, err := s.db.GetByPaymentRef(paymentRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Warn().Str("subscription_id", existing.SubscriptionID).Msg("payment reference replayed")
		return nil, types.WrapError(types.ErrConflict, "payment reference %s already processed", paymentRef)
	}

	sub := &types.Subscription{
		SubscriptionID: "SUB_" + uuid.New().String(),
		UserID:         userID,
		Plan:           plan,
		StartTime:      start,
		EndTime:        end,
		Active:         true,
		PaymentRef:     paymentRef,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.SaveSubscription(sub); err != nil {
		return nil, err
	}

	logger.Info().
		Str("subscription_id", sub.SubscriptionID).
		Str("plan", string(sub.Plan)).
		Time("start", sub.StartTime).
		Time("end", sub.EndTime).
		Msg("subscription activated")

	return sub, nil
}

// Cancel deactivates a user's current subscription.
func (s *Service) Cancel(userID string, at time.Time) (*types.Subscription, error) {
	sub, err := s.db.GetActiveSubscription(userID, at)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, types.WrapError(types.ErrNotFound, "no active subscription for user %s", userID)
	}

	cancelled := at
	sub.Active = false
	sub.CancelledAt = &cancelled
	if err := s.db.SaveSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GinHandlers contains HTTP handlers for subscription endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type completePaymentRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	Plan       types.PlanTier `json:"plan" binding:"required"`
	StartTime  time.Time      `json:"start_time" binding:"required"`
	EndTime    time.Time      `json:"end_time" binding:"required"`
	PaymentRef string         `json:"payment_ref" binding:"required"`
}

// CompletePaymentHandler handles POST requests from the payment collaborator
// to activate a subscription. Internal route.
func (h *GinHandlers) CompletePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		sub, err := h.service.CompletePayment(req.UserID, req.Plan, req.StartTime, req.EndTime, req.PaymentRef)
		response.Handle(c, sub, err)
	}
}

// GetSubscriptionHandler returns the caller's active subscription.
func (h *GinHandlers) GetSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.service.ActiveSubscription(middleware.UserID(c), time.Now())
		if err == nil && sub == nil {
			response.NotFound(c, "No active subscription")
			return
		}
		response.Handle(c, sub, err)
	}
}
