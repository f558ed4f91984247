package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"support-chat/internal/apperrors"
	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/moderation"
	"support-chat/internal/observability"
	"support-chat/internal/presence"
	"support-chat/internal/repositories"
	"support-chat/internal/session"
)

const maxFrameBytes = 64 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound is a client frame.
type inbound struct {
	Type     string             `json:"type"`
	ClientID string             `json:"client_id,omitempty"`
	Content  string             `json:"content,omitempty"`
	Kind     models.MessageKind `json:"kind,omitempty"`
	FileRef  *string            `json:"file_ref,omitempty"`
	ReplyTo  *int               `json:"reply_to,omitempty"`
}

// reply answers one inbound frame.
type reply struct {
	Type             string          `json:"type"`
	ClientID         string          `json:"client_id,omitempty"`
	Message          *models.Message `json:"message,omitempty"`
	Code             apperrors.Code  `json:"code,omitempty"`
	Error            string          `json:"error,omitempty"`
	RemainingSeconds *int            `json:"remaining_seconds,omitempty"`
}

// GroupWebSocketHandler handles group websocket connections.
type GroupWebSocketHandler struct {
	hub       *Hub
	groups    repositories.GroupRepository
	sessions  *session.Manager
	tracker   *presence.Tracker
	auth      middleware.Authenticator
	heartbeat time.Duration
	log       *slog.Logger
}

// NewGroupWebSocketHandler constructs a GroupWebSocketHandler.
func NewGroupWebSocketHandler(hub *Hub, groups repositories.GroupRepository, sessions *session.Manager, tracker *presence.Tracker, auth middleware.Authenticator, heartbeat time.Duration, log *slog.Logger) *GroupWebSocketHandler {
	return &GroupWebSocketHandler{hub: hub, groups: groups, sessions: sessions, tracker: tracker, auth: auth, heartbeat: heartbeat, log: log}
}

// Handle authenticates, checks membership and upgrades to a live group session.
func (h *GroupWebSocketHandler) Handle(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	ctx, span := observability.Tracer("ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := middleware.TokenFromRequest(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}
	userID, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.groups.GetMember(ctx, groupID, userID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		c.JSON(http.StatusForbidden, gin.H{"error": apperrors.ErrNotMember.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	// silenced members may watch, only banned or departed ones are refused
	if err := moderation.CheckStanding(member, time.Now()); err != nil {
		if _, silenced := apperrors.Remaining(err); !silenced {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Role:        member.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	go h.serve(groupID, conn, info)
}

func (h *GroupWebSocketHandler) serve(groupID int, conn *websocket.Conn, info ConnInfo) {
	ctx, cancel := context.WithCancel(observability.WithRequestID(context.Background(), info.RequestID))

	cl := h.hub.Join(groupID, conn, info)
	sess := h.sessions.Open(groupID, info.UserID)
	observability.IncWSActive("group")
	publishLifecycle(ctx, "ws_connect", groupID, info, "")

	beaterDone := make(chan struct{})
	go func() {
		defer close(beaterDone)
		if err := h.tracker.NewBeater(groupID, info.UserID, h.heartbeat).Run(ctx); err != nil {
			// membership ended, the read loop exits once the connection closes
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(writeWait))
			_ = conn.Close()
		}
	}()

	if snap, err := h.hub.Snapshot(ctx, groupID); err != nil {
		h.log.Warn("initial snapshot failed", "group_id", groupID, "user_id", info.UserID, "err", err)
	} else {
		_ = h.hub.Send(groupID, cl, snap)
	}

	closeReason := h.readLoop(ctx, groupID, conn, cl, sess)

	cancel()
	<-beaterDone
	h.sessions.Close(sess)
	h.hub.Leave(groupID, cl)
	_ = conn.Close()
	observability.DecWSActive("group")
	publishLifecycle(context.Background(), "ws_disconnect", groupID, info, closeReason)
}

func (h *GroupWebSocketHandler) readLoop(ctx context.Context, groupID int, conn *websocket.Conn, cl *client, sess *session.Session) string {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(ctx, "ws_error", groupID, cl.info, err.Error())
			}
			return err.Error()
		}

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = h.hub.Send(groupID, cl, reply{Type: "error", Code: apperrors.CodeInvalidArgument, Error: "malformed frame"})
			continue
		}
		_ = h.hub.Send(groupID, cl, h.handleFrame(ctx, groupID, sess, frame))
	}
}

func (h *GroupWebSocketHandler) handleFrame(ctx context.Context, groupID int, sess *session.Session, frame inbound) reply {
	switch frame.Type {
	case "post":
		if frame.Kind == "" {
			frame.Kind = models.KindText
		}
		msg, err := h.sessions.PostInSession(ctx, sess, session.PostInput{
			Content: frame.Content,
			Kind:    frame.Kind,
			FileRef: frame.FileRef,
			ReplyTo: frame.ReplyTo,
		})
		if err != nil {
			return errorReply(frame.ClientID, err)
		}
		return reply{Type: "ack", ClientID: frame.ClientID, Message: &msg}
	case "heartbeat":
		if _, err := h.tracker.Heartbeat(ctx, groupID, sess.UserID, true); err != nil {
			return errorReply(frame.ClientID, err)
		}
		return reply{Type: "ack", ClientID: frame.ClientID}
	default:
		return reply{Type: "error", ClientID: frame.ClientID, Code: apperrors.CodeInvalidArgument, Error: "unknown frame type"}
	}
}

func errorReply(clientID string, err error) reply {
	r := reply{Type: "error", ClientID: clientID, Code: apperrors.CodeOf(err), Error: apperrors.Public(err)}
	if remaining, ok := apperrors.Remaining(err); ok {
		secs := apperrors.CeilSeconds(remaining)
		r.RemainingSeconds = &secs
	}
	return r
}
