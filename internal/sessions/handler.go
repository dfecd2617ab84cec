package sessions

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title                string                  `json:"title" binding:"required"`
	Description          string                  `json:"description"`
	Type                 string                  `json:"type"`
	CoHostIDs            []string                `json:"co_host_ids"`
	ScheduledStartTime   time.Time               `json:"scheduled_start_time" binding:"required"`
	ScheduledEndTime     *time.Time              `json:"scheduled_end_time"`
	Settings             *models.SessionSettings `json:"settings"`
	MaxParticipants      int                     `json:"max_participants"`
	RegistrationDeadline *time.Time              `json:"registration_deadline"`
}

// UpdateRequest is the body for PATCH /sessions/:id. All fields optional.
type UpdateRequest struct {
	Title                *string                 `json:"title"`
	Description          *string                 `json:"description"`
	ScheduledStartTime   *time.Time              `json:"scheduled_start_time"`
	ScheduledEndTime     *time.Time              `json:"scheduled_end_time"`
	Settings             *models.SessionSettings `json:"settings"`
	MaxParticipants      *int                    `json:"max_participants"`
	RegistrationDeadline *time.Time              `json:"registration_deadline"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	coHosts := make([]uuid.UUID, 0, len(req.CoHostIDs))
	for _, raw := range req.CoHostIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid co-host id: "+raw)
			return
		}
		coHosts = append(coHosts, id)
	}

	sess, err := h.svc.CreateSession(c.Request.Context(), userID, CreateInput{
		Title:                req.Title,
		Description:          req.Description,
		Type:                 models.SessionType(req.Type),
		CoHostIDs:            coHosts,
		ScheduledStartTime:   req.ScheduledStartTime,
		ScheduledEndTime:     req.ScheduledEndTime,
		Settings:             req.Settings,
		MaxParticipants:      req.MaxParticipants,
		RegistrationDeadline: req.RegistrationDeadline,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sess)
}

// Update handles PATCH /sessions/:id (host only, scheduled only).
func (h *Handler) Update(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sess, err := h.svc.UpdateSession(c.Request.Context(), sessionID, userID, UpdatePatch{
		Title:                req.Title,
		Description:          req.Description,
		ScheduledStartTime:   req.ScheduledStartTime,
		ScheduledEndTime:     req.ScheduledEndTime,
		Settings:             req.Settings,
		MaxParticipants:      req.MaxParticipants,
		RegistrationDeadline: req.RegistrationDeadline,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Register handles POST /sessions/:id/register.
func (h *Handler) Register(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	sess, err := h.svc.Register(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Join handles POST /sessions/:id/join. A host joining a scheduled session
// takes it live.
func (h *Handler) Join(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.svc.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.svc.Leave(c.Request.Context(), sessionID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// Start handles POST /sessions/:id/start (host/co-host).
func (h *Handler) Start(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	sess, err := h.svc.StartIfNeeded(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /sessions/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	sess, err := h.svc.EndSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Cancel handles POST /sessions/:id/cancel (host only, scheduled only).
func (h *Handler) Cancel(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	sess, err := h.svc.CancelSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// List handles GET /sessions. Optional ?host_id= filter.
func (h *Handler) List(c *gin.Context) {
	var hostID *uuid.UUID
	if raw := c.Query("host_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid host_id")
			return
		}
		hostID = &id
	}
	list, err := h.svc.List(c.Request.Context(), hostID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Participants handles GET /sessions/:id/participants.
func (h *Handler) Participants(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.Participants(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
