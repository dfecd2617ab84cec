package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/sessions"
	"github.com/coursedeck/backend/pkg/queue"
	"github.com/coursedeck/backend/pkg/storage"
)

// RecordingProcessor handles recording_upload jobs: download the rendered
// file from the processor URL, stream it to S3, and attach it to the
// session.
type RecordingProcessor struct {
	sessions *sessions.Service
	s3       *storage.S3
	client   *http.Client
	logger   *zap.Logger
}

// NewRecordingProcessor creates a recording upload processor.
func NewRecordingProcessor(sessionSvc *sessions.Service, s3 *storage.S3, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{
		sessions: sessionSvc,
		s3:       s3,
		client:   http.DefaultClient,
		logger:   logger,
	}
}

// Process implements Processor.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingUploadPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.OriginalURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(payload.SessionID.String(), payload.RecordingID.String())

	s3URL, err := p.s3.Upload(ctx, p.s3.RecordingsBucket(), key, contentType, resp.Body, resp.ContentLength)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	rec := &models.Recording{
		ID:        payload.RecordingID,
		SessionID: payload.SessionID,
		URL:       s3URL,
		S3Key:     key,
		Duration:  payload.Duration,
		Format:    "mp4",
		FileSize:  resp.ContentLength,
		Status:    models.RecordingStatusReady,
	}
	if err := p.sessions.AttachRecording(ctx, payload.SessionID, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent job won the attach; the upload is redundant but harmless.
			p.logger.Info("session already has a recording, skipping attach",
				zap.String("session_id", payload.SessionID.String()))
			return nil
		}
		return fmt.Errorf("attach recording: %w", err)
	}

	p.logger.Info("recording upload completed",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("session_id", payload.SessionID.String()),
		zap.String("s3_key", key))
	return nil
}
