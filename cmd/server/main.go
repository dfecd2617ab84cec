// Package main runs the live-session engine HTTP server with WebSocket
// fan-out and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursedeck/backend/config"
	"github.com/coursedeck/backend/internal/analytics"
	"github.com/coursedeck/backend/internal/auth"
	"github.com/coursedeck/backend/internal/emaillogs"
	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/polls"
	"github.com/coursedeck/backend/internal/questions"
	"github.com/coursedeck/backend/internal/realtime"
	"github.com/coursedeck/backend/internal/recordings"
	"github.com/coursedeck/backend/internal/reminders"
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/sessions"
	"github.com/coursedeck/backend/internal/store/postgres"
	"github.com/coursedeck/backend/pkg/database"
	"github.com/coursedeck/backend/pkg/queue"
	"github.com/coursedeck/backend/pkg/redis"
	"github.com/coursedeck/backend/pkg/response"
	"github.com/coursedeck/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	stores := postgres.New(pool)
	locks := sessionlock.New()
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Notifications go out as email jobs; the worker binary delivers them.
	emailLogsRepo := emaillogs.NewRepository(pool)
	notifier := notify.NewEmailNotifier(jobQueue, authRepo, emailLogsRepo, logger)

	// Session lifecycle + participant ledger
	sessionSvc := sessions.NewService(stores, locks, hub, notifier, logger)
	sessionHandler := sessions.NewHandler(sessionSvc)

	// WebSocket presence drives the participant ledger: first socket joins,
	// last socket leaves.
	hub.SetPresenceHandler(realtime.NewPresence(sessionSvc, logger))

	// Polls
	pollSvc := polls.NewService(stores, locks, hub, logger)
	pollHandler := polls.NewHandler(pollSvc)

	// Q&A
	questionSvc := questions.NewService(stores, locks, hub, notifier, logger)
	questionHandler := questions.NewHandler(questionSvc)

	// Recordings
	recordingHandler := recordings.NewHandler(stores.Recordings, stores.Sessions, s3Client, logger)
	recordingWebhook := recordings.NewWebhookHandler(stores.Sessions, jobQueue, logger)

	// Email logs
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo, stores.Sessions)

	// Session stats rollup
	statsHandler := analytics.NewHandler(stores)

	// Pre-session reminder sweep
	scheduler := reminders.NewScheduler(stores, notifier, logger, reminders.Config{
		Interval:  time.Duration(cfg.Reminders.SweepIntervalSec) * time.Second,
		Lookahead: time.Duration(cfg.Reminders.LookaheadHours) * time.Hour,
	})
	scheduler.Start(ctx)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		api.GET("/users", middleware.RequireRole("admin", "instructor"), authHandler.ListUsers)

		// Sessions
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole("admin", "instructor"), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.PATCH("/sessions/:id", sessionHandler.Update)
		api.POST("/sessions/:id/register", sessionHandler.Register)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		api.GET("/sessions/:id/participants", sessionHandler.Participants)
		api.GET("/sessions/:id/stats", statsHandler.GetBySession)
		api.GET("/sessions/:id/emails", emailLogsHandler.ListBySession)

		// Polls
		api.POST("/sessions/:id/polls", pollHandler.Create)
		api.GET("/sessions/:id/polls", pollHandler.ListBySession)
		api.GET("/polls/:id", pollHandler.Get)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.POST("/polls/:id/close", pollHandler.Close)

		// Q&A
		api.POST("/sessions/:id/questions", questionHandler.Ask)
		api.GET("/sessions/:id/questions", questionHandler.ListBySession)
		api.POST("/questions/:id/upvote", questionHandler.Upvote)
		api.PATCH("/questions/:id/answer", questionHandler.Answer)
		api.PATCH("/questions/:id/pin", questionHandler.Pin)
		api.PATCH("/questions/:id/priority", questionHandler.SetPriority)
		api.PATCH("/questions/:id/dismiss", questionHandler.Dismiss)

		// Recordings
		api.GET("/sessions/:id/recording", recordingHandler.GetBySession)
		api.GET("/recordings/:id/download-url", recordingHandler.DownloadURL)
	}

	// Webhooks (no JWT; the processor is trusted at the network boundary)
	router.POST("/webhooks/recording-ready", recordingWebhook.RecordingReady)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scheduler.Stop()
	pollSvc.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
