package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support-chat/internal/middleware"
	"support-chat/internal/observability"
	"support-chat/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(observability.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDContextKey, requestID)
	return requestID
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, text string, groupID int, fields map[string]any) {
	audit.Emit(c.Request.Context(), telemetry.AuditEntry{
		Level:     level,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    middleware.UserID(c),
		GroupID:   groupID,
		Fields:    fields,
	})
}
