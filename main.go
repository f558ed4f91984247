package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"support-chat/internal/bus"
	"support-chat/internal/config"
	"support-chat/internal/crisis"
	"support-chat/internal/db"
	"support-chat/internal/handlers"
	"support-chat/internal/logger"
	"support-chat/internal/middleware"
	"support-chat/internal/moderation"
	"support-chat/internal/observability"
	"support-chat/internal/presence"
	"support-chat/internal/rabbitmq"
	"support-chat/internal/reports"
	"support-chat/internal/repositories"
	"support-chat/internal/session"
	"support-chat/internal/telemetry"
	"support-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, logCloser, err := logger.New(cfg.Logger, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.ServiceName)
	if err != nil {
		logr.Error("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	database, err := db.Connect(cfg.DB.DSN, cfg.DB.MaxOpenConns, logr)
	if err != nil {
		logr.Error("failed to connect to db", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logr)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.RabbitMQ.AuditRoutingKey, cfg.ServiceName, cfg.Environment, logr)

	busPublisher := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.BusExchange, logr)
	defer busPublisher.Close()
	eventBus := bus.NewAMQP(bus.NewLocal(cfg.RabbitMQ.BusBuffer), busPublisher, cfg.RabbitMQ.URL, cfg.RabbitMQ.BusExchange, logr)
	go func() {
		if err := eventBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("bus consumer stopped", "err", err)
		}
	}()

	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewGroupMessageRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)
	reportRepo := repositories.NewReportRepo(database)
	crisisRepo := repositories.NewCrisisRepo(database)

	engine := moderation.NewEngine(groupRepo, eventBus, audit, logr)
	tracker := presence.NewTracker(presenceRepo, groupRepo, eventBus, cfg.Presence.Window, logr)

	classifier, err := crisis.NewKeywordClassifier(cfg.Crisis.Keywords)
	if err != nil {
		logr.Error("failed to build crisis classifier", "err", err)
		os.Exit(1)
	}
	hub := ws.NewHub(eventBus, ws.NewStoreSnapshotter(messageRepo, tracker, cfg.Presence.History), logr)
	detector := crisis.NewDetector(classifier, crisisRepo, eventBus, audit, logr, crisis.Options{
		Resources: cfg.Crisis.Resources,
		Timeout:   cfg.Crisis.ScanTimeout,
	}).
		WithSignaler(hub).
		WithNotifier(crisis.NewBrokerNotifier(publisher, cfg.Crisis.EmergencyRouteKey)).
		WithAuthorizer(engine)

	sessions := session.NewManager(groupRepo, messageRepo, detector, engine, eventBus, logr)
	workflow := reports.NewWorkflow(reportRepo, messageRepo, groupRepo, engine, eventBus, audit, logr)

	auth := middleware.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	groupWS := ws.NewGroupWebSocketHandler(hub, groupRepo, sessions, tracker, auth, cfg.Presence.Heartbeat, logr)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "amqp": rabbitmq.PublisherMode(publisher)})
	})

	handlers.Register(router, auth, handlers.Handlers{
		Groups:     handlers.NewGroupHandler(sessions, audit),
		Moderation: handlers.NewModerationHandler(engine, audit),
		Reports:    handlers.NewReportHandler(workflow),
		Presence:   handlers.NewPresenceHandler(tracker, engine),
		Crisis:     handlers.NewCrisisHandler(detector),
		RPC:        handlers.NewRPCHandler(engine, tracker, detector, messageRepo),
		WebSocket:  groupWS.Handle,
	})
	handlers.RegisterDebugRoutes(router, audit, eventBus, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logr.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", "err", err)
	}
	hub.Shutdown()
	hub.Wait()
	detector.Wait()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logr.Warn("tracer shutdown", "err", err)
	}
}
