// Package main runs the background job worker (recording upload to S3 and
// email delivery).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursedeck/backend/config"
	"github.com/coursedeck/backend/internal/auth"
	"github.com/coursedeck/backend/internal/emaillogs"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/sessions"
	"github.com/coursedeck/backend/internal/store/postgres"
	"github.com/coursedeck/backend/internal/worker"
	"github.com/coursedeck/backend/pkg/database"
	"github.com/coursedeck/backend/pkg/queue"
	"github.com/coursedeck/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	stores := postgres.New(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	emailLogsRepo := emaillogs.NewRepository(pool)

	// The attach path needs the full session service so recording-ready
	// notifications go back out through the email queue.
	notifier := notify.NewEmailNotifier(jobQueue, auth.NewRepository(pool), emailLogsRepo, logger)
	sessionSvc := sessions.NewService(stores, sessionlock.New(), nil, notifier, logger)

	mailer := &worker.SMTPMailer{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		User:        cfg.Email.SMTPUser,
		Pass:        cfg.Email.SMTPPass,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}

	w := worker.New(jobQueue, logger)
	w.Register(queue.JobTypeRecordingUpload, worker.NewRecordingProcessor(sessionSvc, s3Client, logger))
	w.Register(queue.JobTypeEmail, worker.NewEmailProcessor(mailer, emailLogsRepo, logger))

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
