package emaillogs

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo     *Repository
	sessions store.SessionStore
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository, sessions store.SessionStore) *Handler {
	return &Handler{repo: repo, sessions: sessions}
}

// ListBySession handles GET /sessions/:id/emails. Host and co-hosts only.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	sess, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	if !sess.IsHostOrCoHost(userID) {
		response.Forbidden(c, "not authorized to list session emails")
		return
	}

	logs, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
