package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crowdfund/internal/service/lifecycle"
	"crowdfund/pkg/outbox"
)

type AdminHandler struct {
	svc           *lifecycle.Service
	replayService *outbox.ReplayService
	logger        *zap.Logger
}

func NewAdminHandler(svc *lifecycle.Service, replayService *outbox.ReplayService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:           svc,
		replayService: replayService,
		logger:        logger,
	}
}

// Initialize POST /admin/initialize，调用方成为管理员
func (h *AdminHandler) Initialize(c *gin.Context) {
	admin := Caller(c)
	if err := h.svc.Initialize(c.Request.Context(), admin); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized", "admin": admin})
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/:id/replay
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event replay not configured"})
		return
	}
	eventID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.logger.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event replay not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}
