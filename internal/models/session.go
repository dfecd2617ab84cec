package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionType categorizes a live session.
type SessionType string

const (
	SessionTypeWebinar         SessionType = "webinar"
	SessionTypeWorkshop        SessionType = "workshop"
	SessionTypeQnA             SessionType = "qna"
	SessionTypeOfficeHours     SessionType = "office_hours"
	SessionTypeCompletionParty SessionType = "completion_party"
	SessionTypeCustom          SessionType = "custom"
)

// ValidSessionType reports whether t is a known session type.
func ValidSessionType(t SessionType) bool {
	switch t {
	case SessionTypeWebinar, SessionTypeWorkshop, SessionTypeQnA,
		SessionTypeOfficeHours, SessionTypeCompletionParty, SessionTypeCustom:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionCancelled
}

// SessionSettings are the capability flags of a session. They are frozen
// once the session leaves scheduled.
type SessionSettings struct {
	AllowRecording      bool `json:"allow_recording"`
	RequireRegistration bool `json:"require_registration"`
	IsPublic            bool `json:"is_public"`
	AllowQuestions      bool `json:"allow_questions"`
	AllowPolls          bool `json:"allow_polls"`
	AllowScreenShare    bool `json:"allow_screen_share"`
	AllowChat           bool `json:"allow_chat"`
}

// DefaultSessionSettings enables the interactive features and keeps the
// session private and registration-free.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		AllowQuestions:   true,
		AllowPolls:       true,
		AllowScreenShare: true,
		AllowChat:        true,
	}
}

// Session is the root aggregate of the live-session engine. Participants,
// polls, votes, and questions carry its id and live and die with it.
type Session struct {
	ID          uuid.UUID   `json:"id"`
	HostID      uuid.UUID   `json:"host_id"`
	CoHostIDs   []uuid.UUID `json:"co_host_ids,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Type        SessionType `json:"type"`

	Status             SessionStatus `json:"status"`
	ScheduledStartTime time.Time     `json:"scheduled_start_time"`
	ScheduledEndTime   *time.Time    `json:"scheduled_end_time,omitempty"`
	ActualStartTime    *time.Time    `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time    `json:"actual_end_time,omitempty"`
	// DurationMinutes is derived on end: floor((end-start) in seconds / 60).
	DurationMinutes int `json:"duration_minutes"`

	Settings             SessionSettings `json:"settings"`
	MaxParticipants      int             `json:"max_participants,omitempty"` // 0 = unlimited
	RegistrationDeadline *time.Time      `json:"registration_deadline,omitempty"`
	RegisteredUserIDs    []uuid.UUID     `json:"registered_user_ids,omitempty"`

	CurrentParticipants int `json:"current_participants"`
	TotalParticipants   int `json:"total_participants"`
	PeakParticipants    int `json:"peak_participants"`
	TotalViews          int `json:"total_views"`

	RemindersSent bool       `json:"reminders_sent"`
	RecordingID   *uuid.UUID `json:"recording_id,omitempty"`

	// Version guards optimistic-concurrency saves.
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsHost reports whether userID is the session host.
func (s *Session) IsHost(userID uuid.UUID) bool { return s.HostID == userID }

// IsHostOrCoHost reports whether userID is the host or one of the co-hosts.
func (s *Session) IsHostOrCoHost(userID uuid.UUID) bool {
	if s.HostID == userID {
		return true
	}
	for _, id := range s.CoHostIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsRegistered reports whether userID is in the registered set.
func (s *Session) IsRegistered(userID uuid.UUID) bool {
	for _, id := range s.RegisteredUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
