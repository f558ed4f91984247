package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/moderation"
	"support-chat/internal/telemetry"
)

// ModerationHandler exposes moderator actions.
type ModerationHandler struct {
	engine *moderation.Engine
	audit  *telemetry.AuditEmitter
}

func NewModerationHandler(engine *moderation.Engine, audit *telemetry.AuditEmitter) *ModerationHandler {
	return &ModerationHandler{engine: engine, audit: audit}
}

type moderateRequest struct {
	TargetID int    `json:"target_id" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Hours    int    `json:"hours"`
	Reason   string `json:"reason"`
}

// Moderate handles POST /groups/:group_id/moderation.
func (h *ModerationHandler) Moderate(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.engine.Moderate(c.Request.Context(), ids[0], middleware.UserID(c), req.TargetID,
		moderation.Action{Kind: moderation.ActionKind(req.Action), Hours: req.Hours}, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// Unban handles POST /groups/:group_id/members/:user_id/unban.
func (h *ModerationHandler) Unban(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "user_id")
	if !ok {
		return
	}
	member, err := h.engine.Unban(c.Request.Context(), ids[0], middleware.UserID(c), ids[1], c.Query("reason"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// Unsilence handles POST /groups/:group_id/members/:user_id/unsilence.
func (h *ModerationHandler) Unsilence(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "user_id")
	if !ok {
		return
	}
	member, err := h.engine.Unsilence(c.Request.Context(), ids[0], middleware.UserID(c), ids[1], c.Query("reason"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// SetRole handles PUT /groups/:group_id/members/:user_id/role.
func (h *ModerationHandler) SetRole(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "user_id")
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role" binding:"required,oneof=member moderator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	member, err := h.engine.SetRole(c.Request.Context(), ids[0], middleware.UserID(c), ids[1], models.Role(req.Role))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// SetSlowMode handles PUT /groups/:group_id/slow-mode.
func (h *ModerationHandler) SetSlowMode(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		Seconds *int `json:"seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetSlowMode(c.Request.Context(), ids[0], middleware.UserID(c), time.Duration(*req.Seconds)*time.Second); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "slow mode updated", ids[0], map[string]any{"seconds": *req.Seconds})
	c.JSON(http.StatusOK, gin.H{"slow_mode_seconds": *req.Seconds})
}

// History handles GET /groups/:group_id/moderation.
func (h *ModerationHandler) History(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	actions, err := h.engine.History(c.Request.Context(), ids[0], middleware.UserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}
