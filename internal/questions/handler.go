package questions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/pkg/response"
)

// AskRequest is the body for POST /sessions/:id/questions.
type AskRequest struct {
	Text string `json:"text" binding:"required"`
}

// AnswerRequest is the body for POST /questions/:id/answer.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// PinRequest is the body for POST /questions/:id/pin.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// PriorityRequest is the body for POST /questions/:id/priority.
type PriorityRequest struct {
	Priority string `json:"priority" binding:"required,oneof=low normal high"`
}

// Handler handles Q&A HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a Q&A handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Ask handles POST /sessions/:id/questions.
func (h *Handler) Ask(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	q, err := h.svc.Ask(c.Request.Context(), sessionID, userID, req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// Upvote handles POST /questions/:id/upvote. The same call removes the
// upvote when it is already present.
func (h *Handler) Upvote(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	q, err := h.svc.ToggleUpvote(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Answer handles POST /questions/:id/answer (host/co-host).
func (h *Handler) Answer(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	q, err := h.svc.Answer(c.Request.Context(), questionID, userID, req.Answer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Pin handles POST /questions/:id/pin (host/co-host).
func (h *Handler) Pin(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	q, err := h.svc.Pin(c.Request.Context(), questionID, userID, req.Pinned)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// SetPriority handles POST /questions/:id/priority (host/co-host).
func (h *Handler) SetPriority(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: priority must be low, normal, or high")
		return
	}

	q, err := h.svc.SetPriority(c.Request.Context(), questionID, userID, models.QuestionPriority(req.Priority))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Dismiss handles POST /questions/:id/dismiss (host/co-host).
func (h *Handler) Dismiss(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	q, err := h.svc.Dismiss(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// ListBySession handles GET /sessions/:id/questions.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	qs, err := h.svc.ListBySession(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, qs)
}
