// Package analytics serves the post-session stats rollup derived from the
// participant ledger and the engagement engines.
package analytics

import (
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/middleware"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/pkg/response"
)

// Handler handles GET /sessions/:id/stats.
type Handler struct {
	stores store.Stores
}

// NewHandler creates a stats handler.
func NewHandler(stores store.Stores) *Handler {
	return &Handler{stores: stores}
}

// SummaryResponse is the JSON shape for session stats.
type SummaryResponse struct {
	Status              models.SessionStatus `json:"status"`
	TotalRegistered     int                  `json:"total_registered"`
	TotalAttended       int                  `json:"total_attended"`
	TotalNoShow         int                  `json:"total_no_show"`
	CurrentParticipants int                  `json:"current_participants"`
	PeakParticipants    int                  `json:"peak_participants"`
	TotalViews          int                  `json:"total_views"`
	DurationMinutes     int                  `json:"duration_minutes"`
	AvgWatchSeconds     int64                `json:"avg_watch_seconds"`
	PollCount           int                  `json:"poll_count"`
	PollParticipation   float64              `json:"poll_participation_percent"`
	QuestionsCount      int                  `json:"questions_count"`
	QuestionsAnswered   int                  `json:"questions_answered"`
}

// GetBySession handles GET /sessions/:id/stats. Host and co-hosts only.
func (h *Handler) GetBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ctx := c.Request.Context()

	sess, err := h.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	if !sess.IsHostOrCoHost(userID) {
		response.Forbidden(c, "not authorized to view session stats")
		return
	}

	participants, err := h.stores.Participants.ListBySession(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to load participants")
		return
	}
	var attended, pollVoters int
	var watchTotal int64
	for _, p := range participants {
		if p.JoinedAt != nil {
			attended++
			watchTotal += p.WatchTimeSeconds
		}
		if p.PollsAnswered > 0 {
			pollVoters++
		}
	}
	var avgWatch int64
	if attended > 0 {
		avgWatch = watchTotal / int64(attended)
	}
	pollPercent := 0.0
	if attended > 0 {
		pollPercent = math.Round(float64(pollVoters)/float64(attended)*1000) / 10
	}

	polls, err := h.stores.Polls.ListBySession(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to load polls")
		return
	}
	questions, err := h.stores.Questions.ListBySession(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to load questions")
		return
	}
	var answered int
	for _, q := range questions {
		if q.Status == models.QuestionAnswered {
			answered++
		}
	}

	noShow := len(sess.RegisteredUserIDs) - attended
	if noShow < 0 {
		noShow = 0
	}
	response.OK(c, SummaryResponse{
		Status:              sess.Status,
		TotalRegistered:     len(sess.RegisteredUserIDs),
		TotalAttended:       attended,
		TotalNoShow:         noShow,
		CurrentParticipants: sess.CurrentParticipants,
		PeakParticipants:    sess.PeakParticipants,
		TotalViews:          sess.TotalViews,
		DurationMinutes:     sess.DurationMinutes,
		AvgWatchSeconds:     avgWatch,
		PollCount:           len(polls),
		PollParticipation:   pollPercent,
		QuestionsCount:      len(questions),
		QuestionsAnswered:   answered,
	})
}
