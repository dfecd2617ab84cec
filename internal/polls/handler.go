package polls

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions/:id/polls.
type CreateRequest struct {
	Question         string   `json:"question" binding:"required"`
	Options          []string `json:"options" binding:"required,min=2"`
	IsMultipleChoice bool     `json:"is_multiple_choice"`
	IsAnonymous      bool     `json:"is_anonymous"`
	DurationSeconds  int      `json:"duration_seconds"`
}

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	SelectedOptions []int `json:"selected_options" binding:"required,min=1"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions/:id/polls (host/co-host).
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	poll, err := h.svc.CreatePoll(c.Request.Context(), sessionID, userID, CreateInput{
		Question:         req.Question,
		Options:          req.Options,
		IsMultipleChoice: req.IsMultipleChoice,
		IsAnonymous:      req.IsAnonymous,
		DurationSeconds:  req.DurationSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, poll)
}

// Vote handles POST /polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: selected_options is required")
		return
	}

	poll, err := h.svc.Vote(c.Request.Context(), pollID, userID, req.SelectedOptions)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// Close handles POST /polls/:id/close (host/co-host).
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	poll, err := h.svc.ClosePoll(c.Request.Context(), pollID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.svc.Get(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// ListBySession handles GET /sessions/:id/polls.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	polls, err := h.svc.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, polls)
}
