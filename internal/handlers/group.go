package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/session"
	"support-chat/internal/telemetry"
)

// GroupHandler manages groups, membership and messages.
type GroupHandler struct {
	sessions *session.Manager
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(sessions *session.Manager, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{sessions: sessions, audit: audit}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := middleware.UserID(c)

	var req struct {
		Name            string         `json:"name" binding:"required"`
		Alias           string         `json:"alias" binding:"required"`
		SlowModeSeconds int            `json:"slow_mode_seconds" binding:"gte=0"`
		ChatConfig      models.JSONMap `json:"chat_config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, "ERROR", "invalid request payload", 0, nil)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.sessions.CreateGroup(c.Request.Context(), userID, req.Name, req.Alias, time.Duration(req.SlowModeSeconds)*time.Second, req.ChatConfig)
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, "INFO", "group created", group.ID, nil)
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.sessions.Groups(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// Join handles POST /groups/:group_id/join.
func (h *GroupHandler) Join(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		Alias string `json:"alias" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, created, err := h.sessions.Join(c.Request.Context(), ids[0], middleware.UserID(c), req.Alias)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		emitAudit(c, h.audit, "INFO", "member joined", ids[0], nil)
	}
	c.JSON(status, gin.H{"member": member, "already_member": !created})
}

// Leave handles DELETE /groups/:group_id/members/me.
func (h *GroupHandler) Leave(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	if err := h.sessions.Unregister(c.Request.Context(), ids[0], middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "member left", ids[0], nil)
	c.Status(http.StatusNoContent)
}

// GetMessages returns the recent window of the group.
func (h *GroupHandler) GetMessages(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.sessions.History(c.Request.Context(), ids[0], middleware.UserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage persists and broadcasts a group message.
func (h *GroupHandler) PostMessage(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	var req session.PostInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindText
	}

	msg, err := h.sessions.PostMessage(c.Request.Context(), ids[0], middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// EditMessage handles PATCH /groups/:group_id/messages/:message_id.
func (h *GroupHandler) EditMessage(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.sessions.EditMessage(c.Request.Context(), ids[0], ids[1], middleware.UserID(c), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage handles DELETE /groups/:group_id/messages/:message_id.
func (h *GroupHandler) DeleteMessage(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "message_id")
	if !ok {
		return
	}
	if err := h.sessions.DeleteMessage(c.Request.Context(), ids[0], ids[1], middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.audit, "INFO", "message deleted", ids[0], map[string]any{"message_id": ids[1]})
	c.Status(http.StatusNoContent)
}

// PinMessage handles POST /groups/:group_id/messages/:message_id/pin.
func (h *GroupHandler) PinMessage(c *gin.Context) {
	ids, ok := pathInts(c, "group_id", "message_id")
	if !ok {
		return
	}
	req := struct {
		Pinned *bool `json:"pinned"`
	}{}
	// an empty body pins
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pinned := req.Pinned == nil || *req.Pinned

	msg, err := h.sessions.PinMessage(c.Request.Context(), ids[0], ids[1], middleware.UserID(c), pinned)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
