package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/reports"
)

// ReportHandler files reports and serves the moderator review queue.
type ReportHandler struct {
	workflow *reports.Workflow
}

func NewReportHandler(workflow *reports.Workflow) *ReportHandler {
	return &ReportHandler{workflow: workflow}
}

// Report handles POST /groups/:group_id/messages/:message_id/reports.
func (h *ReportHandler) Report(c *gin.Context) {
	// the group is taken from the message itself
	ids, ok := pathInts(c, "group_id", "message_id")
	if !ok {
		return
	}
	var req struct {
		Reason      string `json:"reason" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.workflow.Report(c.Request.Context(), ids[1], middleware.UserID(c), models.ReportReason(req.Reason), req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": report})
}

// Queue handles GET /groups/:group_id/reports.
func (h *ReportHandler) Queue(c *gin.Context) {
	ids, ok := pathInts(c, "group_id")
	if !ok {
		return
	}
	buckets, err := h.workflow.Queue(c.Request.Context(), ids[0], middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": buckets})
}

// Resolve handles POST /messages/:message_id/reports/resolve.
func (h *ReportHandler) Resolve(c *gin.Context) {
	ids, ok := pathInts(c, "message_id")
	if !ok {
		return
	}
	resolved, err := h.workflow.Resolve(c.Request.Context(), ids[0], middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

// DeleteAndResolve handles POST /messages/:message_id/reports/delete.
func (h *ReportHandler) DeleteAndResolve(c *gin.Context) {
	ids, ok := pathInts(c, "message_id")
	if !ok {
		return
	}
	resolved, err := h.workflow.DeleteAndResolve(c.Request.Context(), ids[0], middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved, "deleted": true})
}
