package recordings

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/pkg/response"
	"github.com/coursedeck/backend/pkg/storage"
)

// Handler handles recording HTTP endpoints.
type Handler struct {
	recordings store.RecordingStore
	sessions   store.SessionStore
	s3         *storage.S3
	logger     *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil, in which case
// download URLs are unavailable.
func NewHandler(recordings store.RecordingStore, sessions store.SessionStore, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{recordings: recordings, sessions: sessions, s3: s3, logger: logger}
}

// GetBySession handles GET /sessions/:id/recording.
func (h *Handler) GetBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	rec, err := h.recordings.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "no recording for this session")
			return
		}
		h.logger.Error("load recording failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load recording")
		return
	}
	response.OK(c, rec)
}

// DownloadURL handles GET /recordings/:id/download-url. Returns a presigned
// URL and counts the view. Registered participants, hosts, and co-hosts only.
func (h *Handler) DownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	rec, err := h.recordings.Get(c.Request.Context(), recordingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		response.Internal(c, "failed to load recording")
		return
	}
	if rec.Status != models.RecordingStatusReady || rec.S3Key == "" {
		response.BadRequest(c, "recording not ready for download")
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), rec.SessionID)
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}
	if !sess.IsHostOrCoHost(userID) && !sess.IsRegistered(userID) {
		response.Forbidden(c, "not authorized to download this recording")
		return
	}

	if h.s3 == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.RecordingsBucket(), rec.S3Key, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	if err := h.recordings.IncrementViews(c.Request.Context(), rec.ID); err != nil {
		h.logger.Warn("increment recording views failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}
