package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/crisis"
	"support-chat/internal/middleware"
)

type CrisisHandler struct {
	detector *crisis.Detector
}

func NewCrisisHandler(detector *crisis.Detector) *CrisisHandler {
	return &CrisisHandler{detector: detector}
}

// ListAlerts handles GET /groups/:group_id/crisis-alerts.
func (h *CrisisHandler) ListAlerts(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	alerts, err := h.detector.Alerts(c.Request.Context(), ids[0], middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
