package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/presence"
)

// Authorizer resolves an actor holding one of roles.
type Authorizer interface {
	AuthorizedAction(ctx context.Context, groupID, actorID int, roles ...models.Role) (models.Member, error)
}

var anyRole = []models.Role{models.RoleMember, models.RoleModerator, models.RoleOwner}

type PresenceHandler struct {
	tracker    *presence.Tracker
	authorizer Authorizer
}

func NewPresenceHandler(tracker *presence.Tracker, authorizer Authorizer) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, authorizer: authorizer}
}

// Online handles GET /groups/:group_id/presence and lists fresh members only.
func (h *PresenceHandler) Online(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	if _, err := h.authorizer.AuthorizedAction(c.Request.Context(), ids[0], middleware.UserID(c), anyRole...); err != nil {
		respondError(c, err)
		return
	}
	records, err := h.tracker.Online(c.Request.Context(), ids[0])
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": records})
}

// Heartbeat handles POST /groups/:group_id/presence.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	record, err := h.tracker.Heartbeat(c.Request.Context(), ids[0], middleware.UserID(c), true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": record})
}

// Leave handles DELETE /groups/:group_id/presence.
func (h *PresenceHandler) Leave(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	if err := h.tracker.Leave(c.Request.Context(), ids[0], middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
