package handlers

import (
	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
)

// Handlers bundles every HTTP surface of the service.
type Handlers struct {
	Groups     *GroupHandler
	Moderation *ModerationHandler
	Reports    *ReportHandler
	Presence   *PresenceHandler
	Crisis     *CrisisHandler
	RPC        *RPCHandler
	WebSocket  gin.HandlerFunc
}

// Register wires the routes. Everything except the websocket upgrade sits
// behind bearer auth; the websocket authenticates its own token.
func Register(router gin.IRouter, auth middleware.Authenticator, h Handlers) {
	authed := router.Group("/", middleware.AuthMiddleware(auth))

	authed.POST("/groups", h.Groups.CreateGroup)
	authed.GET("/groups", h.Groups.ListGroups)
	authed.POST("/groups/:group_id/join", h.Groups.Join)
	authed.DELETE("/groups/:group_id/members/me", h.Groups.Leave)
	authed.GET("/groups/:group_id/messages", h.Groups.GetMessages)
	authed.POST("/groups/:group_id/messages", h.Groups.PostMessage)
	authed.PATCH("/groups/:group_id/messages/:message_id", h.Groups.EditMessage)
	authed.DELETE("/groups/:group_id/messages/:message_id", h.Groups.DeleteMessage)
	authed.POST("/groups/:group_id/messages/:message_id/pin", h.Groups.PinMessage)

	authed.POST("/groups/:group_id/messages/:message_id/reports", h.Reports.Report)
	authed.GET("/groups/:group_id/reports", h.Reports.Queue)
	authed.POST("/messages/:message_id/reports/resolve", h.Reports.Resolve)
	authed.POST("/messages/:message_id/reports/delete", h.Reports.DeleteAndResolve)

	authed.POST("/groups/:group_id/moderation", h.Moderation.Moderate)
	authed.GET("/groups/:group_id/moderation", h.Moderation.History)
	authed.POST("/groups/:group_id/members/:user_id/unban", h.Moderation.Unban)
	authed.POST("/groups/:group_id/members/:user_id/unsilence", h.Moderation.Unsilence)
	authed.PUT("/groups/:group_id/members/:user_id/role", h.Moderation.SetRole)
	authed.PUT("/groups/:group_id/slow-mode", h.Moderation.SetSlowMode)

	authed.GET("/groups/:group_id/presence", h.Presence.Online)
	authed.POST("/groups/:group_id/presence", h.Presence.Heartbeat)
	authed.DELETE("/groups/:group_id/presence", h.Presence.Leave)

	authed.GET("/groups/:group_id/crisis-alerts", h.Crisis.ListAlerts)

	authed.POST("/rpc/moderateMember", h.RPC.ModerateMember)
	authed.POST("/rpc/updatePresence", h.RPC.UpdatePresence)
	authed.POST("/rpc/detectCrisis", h.RPC.DetectCrisis)

	if h.WebSocket != nil {
		router.GET("/ws/groups/:group_id", h.WebSocket)
	}
}
