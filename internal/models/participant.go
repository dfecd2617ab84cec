package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role of a user inside one session.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleCoHost      ParticipantRole = "co_host"
	RoleParticipant ParticipantRole = "participant"
	RoleViewer      ParticipantRole = "viewer"
)

// ParticipantStatus tracks attendance for one session×user pair.
type ParticipantStatus string

const (
	ParticipantRegistered ParticipantStatus = "registered"
	ParticipantJoined     ParticipantStatus = "joined"
	ParticipantLeft       ParticipantStatus = "left"
	ParticipantAbsent     ParticipantStatus = "absent"
)

// Participant is one user's attendance record in one session. Duration
// accumulates only across joined→left intervals; a re-join opens a new
// interval and the sums add up, never overwrite.
type Participant struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Role      ParticipantRole   `json:"role"`
	Status    ParticipantStatus `json:"status"`

	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	LeftAt       *time.Time `json:"left_at,omitempty"`

	DurationSeconds  int64 `json:"duration_seconds"`
	WatchTimeSeconds int64 `json:"watch_time_seconds"`

	QuestionsAsked int `json:"questions_asked"`
	PollsAnswered  int `json:"polls_answered"`
	ChatMessages   int `json:"chat_messages"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
