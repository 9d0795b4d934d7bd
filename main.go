package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"conversation-service/internal/auth"
	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/handlers"
	"conversation-service/internal/logger"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/repositories"
	"conversation-service/internal/storage"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	logger.Init(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}
	if shutdownTracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("failed to flush traces")
			}
		}()
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, "conversation-service", cfg.Environment)

	if cfg.AMQPURL != "" {
		if eventPub, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
			log.Warn().Err(err).Msg("event publisher unavailable, connection events disabled")
		} else {
			observability.SetPublisher(eventPub)
			defer eventPub.Close()
		}
	}

	files, err := storage.NewDiskWriter(cfg.AttachmentDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare attachment dir")
	}

	store := repositories.NewMessageRepo(database)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.AdminEmails)

	registry := ws.NewRegistry()
	presence := ws.NewPresence(registry)
	coordinator := ws.NewCoordinator(registry, presence, store, files, cfg.HeartbeatTimeout, cfg.SweepInterval)
	coordinator.StartCleanupTask(ctx)

	wsHandler := ws.NewHandler(coordinator, verifier, cfg.SendBuffer)
	messageHandler := handlers.NewMessageHandler(store, coordinator, files)
	adminHandler := handlers.NewAdminHandler(store, coordinator, audit)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("conversation-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRequired := middleware.Auth(verifier)
	adminOnly := middleware.RequireAdmin()

	api := router.Group("/api", authRequired)
	{
		api.GET("/conversations", messageHandler.ListConversation)
		api.POST("/conversations", messageHandler.SendMessage)
		api.POST("/conversations/read", messageHandler.MarkConversationRead)
		api.GET("/conversations/unread", messageHandler.UnreadCount)
		api.GET("/messages/search", messageHandler.SearchMessages)
		api.GET("/attachments/:filename", messageHandler.DownloadAttachment)

		admin := api.Group("/admin", adminOnly)
		{
			admin.GET("/conversations", adminHandler.ListConversations)
			admin.GET("/conversations/:user_id", adminHandler.GetConversation)
			admin.POST("/conversations/:user_id", adminHandler.SendMessage)
			admin.POST("/conversations/:user_id/read", adminHandler.MarkConversationRead)
			admin.GET("/online", adminHandler.OnlineUsers)
		}
	}

	router.GET("/ws/conversations", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("conversation service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
