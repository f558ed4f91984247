package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat/internal/telemetry"
)

// BusInspector reports the fan-out state of this instance.
type BusInspector interface {
	Subscribers(groupID int) int
	Consuming() bool
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, inspector BusInspector, enabled bool) {
	if !enabled {
		return
	}

	// ?group_id scopes the test entry to a group so review tooling can filter it.
	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		groupID, _ := strconv.Atoi(c.Query("group_id"))
		emitAudit(c, emitter, "INFO", "audit test", groupID, map[string]any{"debug": true})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "group_id": groupID})
	})

	router.GET("/debug/groups/:group_id/bus", func(c *gin.Context) {
		ids, ok := pathInts(c, "group_id")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"group_id":    ids[0],
			"subscribers": inspector.Subscribers(ids[0]),
			"consuming":   inspector.Consuming(),
		})
	})
}
