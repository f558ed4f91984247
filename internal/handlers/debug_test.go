package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-chat/internal/bus"
	"support-chat/internal/mocks"
	"support-chat/internal/telemetry"
)

func setupDebug(t *testing.T, enabled bool) (*gin.Engine, *mocks.PublisherMock, *bus.AMQP) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := new(mocks.PublisherMock)
	eventBus := bus.NewAMQP(bus.NewLocal(4), pub, "", "support.bus", log)
	emitter := telemetry.NewAuditEmitter(pub, "audit.chat", "support-chat", "test", log)

	router := gin.New()
	RegisterDebugRoutes(router, emitter, eventBus, enabled)
	return router, pub, eventBus
}

func TestDebugRoutesDisabled(t *testing.T) {
	router, _, _ := setupDebug(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditTestIsGroupScoped(t *testing.T) {
	router, pub, _ := setupDebug(t, true)
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.GroupID == 9 && env.Payload.Text == "audit test"
	})).Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test?group_id=9", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(9), decode(t, rec)["group_id"])
	pub.AssertExpectations(t)
}

func TestDebugBusReportsSubscribers(t *testing.T) {
	router, _, eventBus := setupDebug(t, true)
	sub := eventBus.Subscribe(9)
	defer sub.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/groups/9/bus", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, float64(1), resp["subscribers"])
	assert.Equal(t, false, resp["consuming"])
}
