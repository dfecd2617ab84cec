package recordings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/pkg/queue"
	"github.com/coursedeck/backend/pkg/response"
)

// RecordingReadyPayload is the body the external processor posts when a
// session recording has finished rendering.
type RecordingReadyPayload struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	FileURL   string `json:"file_url" binding:"required,url"`
	Duration  int    `json:"duration"` // seconds
	FileSize  int64  `json:"file_size"`
}

// WebhookHandler receives recording callbacks from the external processor.
type WebhookHandler struct {
	sessions store.SessionStore
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(sessions store.SessionStore, q *queue.Queue, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{sessions: sessions, queue: q, logger: logger}
}

// RecordingReady handles POST /webhooks/recording-ready. Validates the
// session, then hands the file off to the worker for S3 upload and attach.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	var body RecordingReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("load session failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load session")
		return
	}
	if sess.Status != models.SessionEnded {
		response.BadRequest(c, "recordings can only be attached to ended sessions")
		return
	}
	if sess.RecordingID != nil {
		// A second callback for the same session is a no-op, not an error.
		c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": *sess.RecordingID, "status": "attached"})
		return
	}

	recordingID := uuid.New()
	if err := h.queue.EnqueueRecordingUpload(c.Request.Context(), queue.RecordingUploadPayload{
		RecordingID: recordingID,
		SessionID:   sessionID,
		OriginalURL: body.FileURL,
		Duration:    body.Duration,
	}); err != nil {
		h.logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to enqueue upload")
		return
	}

	h.logger.Info("recording_ready webhook accepted",
		zap.String("session_id", sessionID.String()),
		zap.String("recording_id", recordingID.String()),
		zap.String("file_url", body.FileURL))
	c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": recordingID, "status": "processing"})
}
