package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/apperrors"
	"support-chat/internal/crisis"
	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/moderation"
	"support-chat/internal/presence"
	"support-chat/internal/repositories"
)

// RPCHandler serves the procedure-style endpoints under /rpc. They share the
// domain calls of the REST routes and take every argument in the body.
type RPCHandler struct {
	engine   *moderation.Engine
	tracker  *presence.Tracker
	detector *crisis.Detector
	messages repositories.GroupMessageRepository
}

func NewRPCHandler(engine *moderation.Engine, tracker *presence.Tracker, detector *crisis.Detector, messages repositories.GroupMessageRepository) *RPCHandler {
	return &RPCHandler{engine: engine, tracker: tracker, detector: detector, messages: messages}
}

// ModerateMember handles POST /rpc/moderateMember.
func (h *RPCHandler) ModerateMember(c *gin.Context) {
	var req struct {
		GroupID int `json:"group_id" binding:"required,gt=0"`
		moderateRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.engine.Moderate(c.Request.Context(), req.GroupID, middleware.UserID(c), req.TargetID,
		moderation.Action{Kind: moderation.ActionKind(req.Action), Hours: req.Hours}, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// UpdatePresence handles POST /rpc/updatePresence. online=false leaves.
func (h *RPCHandler) UpdatePresence(c *gin.Context) {
	var req struct {
		GroupID int   `json:"group_id" binding:"required,gt=0"`
		Online  *bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if req.Online != nil && !*req.Online {
		if err := h.tracker.Leave(c.Request.Context(), req.GroupID, userID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}

	record, err := h.tracker.Heartbeat(c.Request.Context(), req.GroupID, userID, true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": record})
}

// DetectCrisis handles POST /rpc/detectCrisis: a synchronous scan of one
// message, run by its author or a moderator of its group.
func (h *RPCHandler) DetectCrisis(c *gin.Context) {
	var req struct {
		MessageID int `json:"message_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.messages.GetGroupMessage(ctx, req.MessageID)
	if err != nil {
		respondError(c, apperrors.Persistence("load message", err))
		return
	}

	actorID := middleware.UserID(c)
	if msg.AuthorID != actorID {
		if _, err := h.engine.AuthorizedAction(ctx, msg.GroupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
			respondError(c, err)
			return
		}
	}

	alert, err := h.detector.Scan(ctx, msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crisis": alert != nil, "alert": alert})
}
