package notifications

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradepulse/tradepulse-api/internal/types"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
	"github.com/tradepulse/tradepulse-api/pkg/response"
)

type GinHandlers struct {
	service *Service
	access  Accessor
}

func NewGinHandlers(service *Service, access Accessor) *GinHandlers {
	return &GinHandlers{service: service, access: access}
}

func filterFromQuery(c *gin.Context) ListFilter {
	var filter ListFilter
	if raw := c.Query("is_read"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.IsRead = &v
		}
	}
	if raw := c.Query("type"); raw != "" {
		if t := types.NotificationType(raw); t.Valid() {
			filter.Type = t
		}
	}
	if raw := c.Query("before_date"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.BeforeDate = &t
		}
	}
	return filter
}

// ListHandler serves GET /notifications.
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

		result, err := h.service.List(userID, filterFromQuery(c), page, pageSize, h.access)
		response.Handle(c, result, err)
	}
}

// MarkReadHandler serves POST /notifications/:id/mark_read.
func (h *GinHandlers) MarkReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		err := h.service.MarkRead(userID, c.Param("id"))
		response.Handle(c, gin.H{"notification_id": c.Param("id"), "is_read": true}, err)
	}
}

// MarkAllReadHandler serves POST /notifications/mark_all_read.
func (h *GinHandlers) MarkAllReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		changed, err := h.service.MarkAllRead(userID, filterFromQuery(c))
		response.Handle(c, gin.H{"marked_read": changed}, err)
	}
}
